// Package gate implements concurrency admission control fronting the
// provider call: a fixed number of in-flight slots plus a bounded FIFO
// waiting queue, with a rejection counter for observability.
package gate

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// safeUpperBound is the clamp applied to caller-supplied ConcurrencyLimit
// and QueueLimit.
const safeUpperBound = 10_000

// ErrQueueExhausted is returned synchronously when both the in-flight
// slots and the waiting queue are full.
var ErrQueueExhausted = errors.New("queue-exhausted")

// Task is a unit of admitted work.
type Task func(ctx context.Context) error

// Config configures a Gate.
type Config struct {
	// ConcurrencyLimit is the number of tasks allowed in flight
	// simultaneously. Clamped to [1, safeUpperBound].
	ConcurrencyLimit int

	// QueueLimit is the number of tasks allowed to wait once
	// ConcurrencyLimit is saturated. Clamped to [0, safeUpperBound].
	QueueLimit int

	// OnClamp, if set, is invoked once per construction for each
	// configured value above safeUpperBound. Raising a value to its lower
	// bound does not invoke it.
	OnClamp func(field string, requested, clamped int)
}

type waiter struct {
	ctx    context.Context
	task   Task
	result chan error
	elem   *list.Element
}

// State is a point-in-time snapshot of a Gate's in-flight count,
// waiting-queue depth, and rejection total.
type State struct {
	InFlight      int
	Waiting       int
	RejectedTotal int64
}

// Gate is bounded-parallelism admission control. It is safe for
// concurrent use.
type Gate struct {
	mu               sync.Mutex
	concurrencyLimit int
	queueLimit       int
	inFlight         int
	waiting          *list.List // of *waiter
	rejectedTotal    int64
}

// New constructs a Gate, clamping ConcurrencyLimit to [1, safeUpperBound]
// and QueueLimit to [0, safeUpperBound].
func New(cfg Config) *Gate {
	concurrency := cfg.ConcurrencyLimit
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > safeUpperBound {
		if cfg.OnClamp != nil {
			cfg.OnClamp("ConcurrencyLimit", cfg.ConcurrencyLimit, safeUpperBound)
		}
		concurrency = safeUpperBound
	}

	queue := cfg.QueueLimit
	if queue < 0 {
		queue = 0
	}
	if queue > safeUpperBound {
		if cfg.OnClamp != nil {
			cfg.OnClamp("QueueLimit", cfg.QueueLimit, safeUpperBound)
		}
		queue = safeUpperBound
	}

	return &Gate{
		concurrencyLimit: concurrency,
		queueLimit:       queue,
		waiting:          list.New(),
	}
}

// Submit admits task immediately if a slot is free, enqueues it FIFO if
// the waiting queue has room, or rejects synchronously with
// ErrQueueExhausted (incrementing RejectedTotal) otherwise. Submit blocks
// until the task starts and completes, or until ctx is canceled while the
// task is still waiting: a cancellation while waiting removes the task
// from the queue without counting it as rejected.
func (g *Gate) Submit(ctx context.Context, task Task) error {
	g.mu.Lock()
	if g.inFlight < g.concurrencyLimit {
		g.inFlight++
		g.mu.Unlock()
		return g.runAndRelease(ctx, task)
	}

	if g.waiting.Len() >= g.queueLimit {
		g.rejectedTotal++
		g.mu.Unlock()
		return ErrQueueExhausted
	}

	w := &waiter{ctx: ctx, task: task, result: make(chan error, 1)}
	w.elem = g.waiting.PushBack(w)
	g.mu.Unlock()

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		if w.elem != nil {
			g.waiting.Remove(w.elem)
			w.elem = nil
			g.mu.Unlock()
			return ctx.Err()
		}
		g.mu.Unlock()
		// already dequeued and started by the time cancellation raced in;
		// wait for its real result rather than reporting a false reject.
		return <-w.result
	}
}

// runAndRelease executes an admitted task synchronously in the caller's
// goroutine and promotes the next waiter (if any) on completion.
func (g *Gate) runAndRelease(ctx context.Context, t Task) error {
	err := t(ctx)
	g.release()
	return err
}

// release frees one in-flight slot and, if a waiter is queued, hands the
// slot directly to it instead of decrementing inFlight.
func (g *Gate) release() {
	g.mu.Lock()
	front := g.waiting.Front()
	if front == nil {
		g.inFlight--
		g.mu.Unlock()
		return
	}
	w := g.waiting.Remove(front).(*waiter)
	w.elem = nil
	g.mu.Unlock()

	go func() {
		w.result <- g.runAndRelease(w.ctx, w.task)
	}()
}

// State returns a snapshot of the gate's counters.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{InFlight: g.inFlight, Waiting: g.waiting.Len(), RejectedTotal: g.rejectedTotal}
}

// GetDepth returns the current waiting-queue depth.
func (g *Gate) GetDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting.Len()
}

// GetRejectCount returns the cumulative rejection count.
func (g *Gate) GetRejectCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejectedTotal
}

// StartMetricsTimer periodically publishes RejectedTotal and depth to
// Prometheus at interval until the returned stop channel is closed. The
// caller owns the stop channel's lifecycle.
func (g *Gate) StartMetricsTimer(namespace string, interval time.Duration) (stop chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	stop = make(chan struct{})
	depthGauge := gateDepth.WithLabelValues(namespace)
	inFlightGauge := gateInFlight.WithLabelValues(namespace)
	rejectedCounter := gateRejectedTotal.WithLabelValues(namespace)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastRejected int64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s := g.State()
				depthGauge.Set(float64(s.Waiting))
				inFlightGauge.Set(float64(s.InFlight))
				if delta := s.RejectedTotal - lastRejected; delta > 0 {
					rejectedCounter.Add(float64(delta))
				}
				lastRejected = s.RejectedTotal
			}
		}
	}()
	return stop
}
