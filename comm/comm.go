package comm

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Comm is one rank's handle on a communicator. Communicator handles are plain
// integers shared by all member ranks; ranks within a communicator are numbered
// from 0
type Comm struct {
	world  *World
	id     int
	rank   int
	ranks  []int // communicator rank -> world rank
	logger *slog.Logger

	splits   int
	requests []*Request
}

// ID returns the communicator handle
func (c *Comm) ID() int { return c.id }

// Rank returns this process' rank within the communicator
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the communicator
func (c *Comm) Size() int { return len(c.ranks) }

// WorldRank maps a communicator rank to its world rank
func (c *Comm) WorldRank(rank int) int { return c.ranks[rank] }

// IsMaster reports whether this is rank 0 of the communicator
func (c *Comm) IsMaster() bool { return c.rank == 0 }

// Logger returns the rank-tagged logger
func (c *Comm) Logger() *slog.Logger { return c.logger }

// Abort aborts the whole world with cause
func (c *Comm) Abort(cause error) { c.world.Abort(cause) }

func (c *Comm) box(src, dst, tag int) *mailbox {
	return c.world.mailbox(boxKey{comm: c.id, src: src, dst: dst, tag: tag})
}

func (c *Comm) checkRank(rank int) error {
	if rank < 0 || rank >= len(c.ranks) {
		return fmt.Errorf("rank %d not in communicator %d of size %d: %w",
			rank, c.id, len(c.ranks), ErrCommunicationFailure)
	}
	return nil
}

// Send delivers payload to rank dst with tag. The payload is copied, so the
// caller may reuse its buffer immediately
func (c *Comm) Send(dst, tag int, payload []byte) error {
	if err := c.checkRank(dst); err != nil {
		return err
	}
	select {
	case <-c.world.done:
		return fmt.Errorf("send to %d: world aborted: %w", dst, ErrCommunicationFailure)
	default:
	}
	kind := "p2p"
	if tag < 0 {
		kind = "collective"
	}
	c.world.metrics.sent(kind, len(payload))
	c.box(c.rank, dst, tag).push(slices.Clone(payload))
	return nil
}

// Recv blocks until a message from src with tag arrives
func (c *Comm) Recv(src, tag int) ([]byte, error) {
	if err := c.checkRank(src); err != nil {
		return nil, err
	}
	msg, err := c.box(src, c.rank, tag).pop(c.world)
	if err != nil {
		return nil, fmt.Errorf("recv from %d tag %d on comm %d: %w", src, tag, c.id, err)
	}
	return msg, nil
}

// Request is an outstanding non-blocking operation
type Request struct {
	done chan struct{}
	data []byte
	err  error
}

// Data returns the received payload. It is valid only after the request has
// completed through WaitRequests or Wait
func (r *Request) Data() []byte { return r.data }

// Wait blocks until the request completes
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// ISend posts a send and records it as an outstanding request
func (c *Comm) ISend(dst, tag int, payload []byte) *Request {
	r := &Request{done: make(chan struct{})}
	r.err = c.Send(dst, tag, payload)
	close(r.done)
	c.requests = append(c.requests, r)
	return r
}

// IRecv posts a receive and records it as an outstanding request
func (c *Comm) IRecv(src, tag int) *Request {
	r := &Request{done: make(chan struct{})}
	go func() {
		r.data, r.err = c.Recv(src, tag)
		close(r.done)
	}()
	c.requests = append(c.requests, r)
	return r
}

// NRequests returns the number of outstanding requests; pass it to
// WaitRequests to wait only for requests posted afterwards
func (c *Comm) NRequests() int { return len(c.requests) }

// WaitRequests waits for every request posted from index start onwards and
// removes them. The first error is returned after all have completed
func (c *Comm) WaitRequests(start int) error {
	if start < 0 || start > len(c.requests) {
		start = 0
	}
	t0 := time.Now()
	var first error
	for _, r := range c.requests[start:] {
		if err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}
	clear(c.requests[start:])
	c.requests = c.requests[:start]
	if c.world.metrics != nil {
		c.world.metrics.WaitTime.Observe(time.Since(t0).Seconds())
	}
	return first
}
