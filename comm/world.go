package comm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// World is a fixed set of cooperating ranks running in one process. Every rank
// is driven by its own goroutine and talks to the others only through messages;
// nothing else is shared between ranks
type World struct {
	size    int
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	boxes     map[boxKey]*mailbox
	comms     map[splitKey]int
	nextComm  int
	done      chan struct{}
	abortOnce sync.Once
	abortErr  error
}

type boxKey struct {
	comm, src, dst, tag int
}

type splitKey struct {
	parent, seq, color int
}

// Option configures a World
type Option func(*World)

// WithTimeout bounds every blocking receive. Zero waits forever
func WithTimeout(d time.Duration) Option { return func(w *World) { w.timeout = d } }

// WithLogger sets the logger; ranks add their own rank attribute
func WithLogger(l *slog.Logger) Option { return func(w *World) { w.logger = l } }

// WithMetrics attaches transport counters
func WithMetrics(m *Metrics) Option { return func(w *World) { w.metrics = m } }

// NewWorld creates a world of size ranks. Communicator handle 0 is the world
// communicator
func NewWorld(size int, opts ...Option) *World {
	if size < 1 {
		panic(fmt.Sprintf("world size must be positive, got %d", size))
	}
	w := &World{
		size:     size,
		logger:   slog.Default(),
		boxes:    make(map[boxKey]*mailbox),
		comms:    make(map[splitKey]int),
		nextComm: 1,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Size returns the number of ranks
func (w *World) Size() int { return w.size }

// Metrics returns the attached counters, or nil
func (w *World) Metrics() *Metrics { return w.metrics }

// Comm returns the world communicator as seen from rank
func (w *World) Comm(rank int) *Comm {
	ranks := make([]int, w.size)
	for i := range ranks {
		ranks[i] = i
	}
	return &Comm{
		world:  w,
		id:     0,
		rank:   rank,
		ranks:  ranks,
		logger: w.logger.With("rank", rank),
	}
}

// Abort stops the world: every pending and future receive fails with
// ErrCommunicationFailure. The first cause is kept
func (w *World) Abort(cause error) {
	w.abortOnce.Do(func() {
		w.abortErr = cause
		close(w.done)
		w.logger.Error("world aborted", "cause", cause)
	})
}

func (w *World) mailbox(k boxKey) *mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	mb, ok := w.boxes[k]
	if !ok {
		mb = &mailbox{}
		w.boxes[k] = mb
	}
	return mb
}

func (w *World) commID(k splitKey) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.comms[k]
	if !ok {
		id = w.nextComm
		w.nextComm++
		w.comms[k] = id
	}
	return id
}

// Run executes fn on every rank of a new world concurrently, SPMD style, and
// returns the first error. A failing rank aborts the world so that its peers
// do not block on messages that will never arrive
func Run(size int, fn func(c *Comm) error, opts ...Option) error {
	w := NewWorld(size, opts...)
	var g errgroup.Group
	for rank := 0; rank < size; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			if err := fn(c); err != nil {
				w.Abort(fmt.Errorf("rank %d: %w", c.rank, err))
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil && w.abortErr != nil {
		return w.abortErr
	}
	return err
}

// mailbox is an unbounded FIFO for one (communicator, source, destination, tag)
// channel. Sends never block, so a single outstanding message per channel can
// not deadlock a schedule
type mailbox struct {
	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
}

func (mb *mailbox) push(msg []byte) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	if mb.signal != nil {
		close(mb.signal)
		mb.signal = nil
	}
	mb.mu.Unlock()
}

func (mb *mailbox) pop(w *World) ([]byte, error) {
	var timer <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		mb.mu.Lock()
		if len(mb.queue) > 0 {
			msg := mb.queue[0]
			mb.queue[0] = nil
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			return msg, nil
		}
		if mb.signal == nil {
			mb.signal = make(chan struct{})
		}
		sig := mb.signal
		mb.mu.Unlock()

		select {
		case <-sig:
		case <-w.done:
			return nil, fmt.Errorf("world aborted (%v): %w", w.abortErr, ErrCommunicationFailure)
		case <-timer:
			return nil, fmt.Errorf("receive timed out after %v: %w", w.timeout, ErrCommunicationFailure)
		}
	}
}
