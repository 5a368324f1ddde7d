package comm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"slices"
)

// Encode serialises a value for transport
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode
func Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode %T: %v: %w", v, err, ErrProtocolMismatch)
	}
	return nil
}

// SendValue encodes v and sends it to dst
func SendValue(c *Comm, dst, tag int, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return c.Send(dst, tag, data)
}

// RecvValue receives a message from src and decodes it into v
func RecvValue(c *Comm, src, tag int, v any) error {
	data, err := c.Recv(src, tag)
	if err != nil {
		return err
	}
	return Decode(data, v)
}

// AllGather collects one value from every rank, indexed by rank. Every rank of
// the communicator must call it
func AllGather[T any](c *Comm, v T) ([]T, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	for dst := range c.ranks {
		if dst != c.rank {
			if err := c.Send(dst, collectiveTag, data); err != nil {
				return nil, err
			}
		}
	}
	all := make([]T, len(c.ranks))
	all[c.rank] = v
	for src := range c.ranks {
		if src == c.rank {
			continue
		}
		if err := RecvValue(c, src, collectiveTag, &all[src]); err != nil {
			return nil, fmt.Errorf("allgather: %w", err)
		}
	}
	return all, nil
}

// Broadcast sends root's value to every rank and returns it
func Broadcast[T any](c *Comm, root int, v T) (T, error) {
	if c.rank == root {
		for dst := range c.ranks {
			if dst != root {
				if err := SendValue(c, dst, collectiveTag, v); err != nil {
					return v, err
				}
			}
		}
		return v, nil
	}
	var out T
	if err := RecvValue(c, root, collectiveTag, &out); err != nil {
		return out, fmt.Errorf("broadcast: %w", err)
	}
	return out, nil
}

// AllReduceSum returns the sum of v over all ranks, added in rank order so that
// every rank gets a bit-identical result
func AllReduceSum(c *Comm, v float64) (float64, error) {
	all, err := AllGather(c, v)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, x := range all {
		sum += x
	}
	return sum, nil
}

// AllReduceMax returns the maximum of v over all ranks
func AllReduceMax(c *Comm, v float64) (float64, error) {
	all, err := AllGather(c, v)
	if err != nil {
		return 0, err
	}
	return slices.Max(all), nil
}

// AllReduceSumInt returns the integer sum of v over all ranks
func AllReduceSumInt(c *Comm, v int) (int, error) {
	all, err := AllGather(c, v)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, x := range all {
		sum += x
	}
	return sum, nil
}

// Barrier returns once every rank of the communicator has entered it
func (c *Comm) Barrier() error {
	_, err := AllGather(c, true)
	return err
}

// Split partitions the communicator: ranks passing the same non-negative color
// form a new communicator, ordered by their rank here. A negative color opts
// out and returns nil. Every rank must call Split
func (c *Comm) Split(color int) (*Comm, error) {
	colors, err := AllGather(c, color)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	c.splits++
	if color < 0 {
		return nil, nil
	}
	sub := &Comm{
		world: c.world,
		id:    c.world.commID(splitKey{parent: c.id, seq: c.splits, color: color}),
	}
	for r, col := range colors {
		if col == color {
			if r == c.rank {
				sub.rank = len(sub.ranks)
			}
			sub.ranks = append(sub.ranks, c.ranks[r])
		}
	}
	sub.logger = c.world.logger.With("rank", sub.ranks[sub.rank], "comm", sub.id)
	return sub, nil
}
