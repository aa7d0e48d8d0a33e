// Package opqueue implements the single-writer operation lane. Every store
// mutation is funneled through a Queue, which admits operations in priority
// order, runs writes one at a time, and bounds read concurrency. Operations
// arriving in rapid succession get a priority boost so bursts drain ahead of
// long-running work.
package opqueue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies an operation for concurrency control.
type Kind int

const (
	// Read operations may run concurrently up to ReadConcurrency.
	Read Kind = iota
	// Write operations always run with concurrency 1.
	Write
)

var (
	// ErrTimeout is returned when an operation exceeds its queue timeout.
	// It is distinct from business-rule errors so callers can retry.
	ErrTimeout = errors.New("opqueue: operation timed out")
	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("opqueue: queue closed")
)

const (
	defaultTimeout         = 30 * time.Second
	defaultReadConcurrency = 4
	defaultBurstWindow     = 100 * time.Millisecond
	defaultBurstBoost      = 1
)

// Config tunes a Queue. Zero values select the defaults above.
type Config struct {
	ReadConcurrency int
	Timeout         time.Duration
	BurstWindow     time.Duration
	BurstBoost      int
	Logger          *slog.Logger
}

type operation struct {
	kind      Kind
	priority  int
	seq       uint64
	fn        func(ctx context.Context) error
	done      chan error
	ctx       context.Context
	abandoned atomic.Bool
	index     int
}

// opHeap orders by priority descending, then admission order.
type opHeap []*operation

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *opHeap) Push(x any) {
	op := x.(*operation)
	op.index = len(*h)
	*h = append(*h, op)
}
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}

// Queue is the priority operation lane.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	heap       opHeap
	seq        uint64
	writeBusy  bool
	readActive int
	lastSubmit time.Time
	closed     bool
	draining   sync.WaitGroup

	timeouts atomic.Int64
	executed atomic.Int64
}

// New creates a Queue and starts its scheduler.
func New(cfg Config) *Queue {
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = defaultReadConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = defaultBurstWindow
	}
	if cfg.BurstBoost <= 0 {
		cfg.BurstBoost = defaultBurstBoost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{cfg: cfg, logger: cfg.Logger}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Depth returns the number of operations waiting or running.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.heap) + q.readActive
	if q.writeBusy {
		n++
	}
	return n
}

// TimeoutCount returns the number of operations that timed out.
func (q *Queue) TimeoutCount() int64 { return q.timeouts.Load() }

// ExecutedCount returns the number of operations that ran to completion.
func (q *Queue) ExecutedCount() int64 { return q.executed.Load() }

// Submit enqueues fn and blocks until it completes, the per-op timeout
// elapses, or ctx is cancelled. A timed-out operation that has not started
// yet is skipped entirely; one that is already running completes, but its
// result is discarded.
func (q *Queue) Submit(ctx context.Context, kind Kind, priority int, fn func(ctx context.Context) error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	now := time.Now()
	// Burst boost: back-to-back submissions drain ahead of queued work.
	if !q.lastSubmit.IsZero() && now.Sub(q.lastSubmit) < q.cfg.BurstWindow {
		priority += q.cfg.BurstBoost
	}
	q.lastSubmit = now
	q.seq++
	op := &operation{
		kind:     kind,
		priority: priority,
		seq:      q.seq,
		fn:       fn,
		done:     make(chan error, 1),
		ctx:      ctx,
	}
	heap.Push(&q.heap, op)
	q.draining.Add(1)
	q.cond.Broadcast()
	q.mu.Unlock()

	timer := time.NewTimer(q.cfg.Timeout)
	defer timer.Stop()

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		op.abandoned.Store(true)
		return ctx.Err()
	case <-timer.C:
		op.abandoned.Store(true)
		q.timeouts.Add(1)
		return ErrTimeout
	}
}

// loop is the scheduler: it admits the highest-priority operation whose
// concurrency class has capacity. A write at the head of the queue blocks
// later operations, preserving admission order for mutations.
func (q *Queue) loop() {
	for {
		q.mu.Lock()
		for !q.headRunnable() && !(q.closed && len(q.heap) == 0) {
			q.cond.Wait()
		}
		if q.closed && len(q.heap) == 0 {
			q.mu.Unlock()
			return
		}
		op := heap.Pop(&q.heap).(*operation)
		if op.abandoned.Load() {
			q.draining.Done()
			q.mu.Unlock()
			continue
		}
		if op.kind == Write {
			q.writeBusy = true
		} else {
			q.readActive++
		}
		q.mu.Unlock()

		if op.kind == Write {
			q.run(op)
		} else {
			go q.run(op)
		}
	}
}

func (q *Queue) headRunnable() bool {
	if len(q.heap) == 0 {
		return false
	}
	switch q.heap[0].kind {
	case Write:
		return !q.writeBusy && q.readActive == 0
	default:
		return q.readActive < q.cfg.ReadConcurrency && !q.writeBusy
	}
}

func (q *Queue) run(op *operation) {
	err := op.fn(op.ctx)
	q.executed.Add(1)

	q.mu.Lock()
	if op.kind == Write {
		q.writeBusy = false
	} else {
		q.readActive--
	}
	q.draining.Done()
	q.cond.Broadcast()
	q.mu.Unlock()

	op.done <- err
}

// Close stops admission and waits for in-flight and queued operations to
// drain, or for ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.draining.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
