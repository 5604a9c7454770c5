// Package circuitbreaker implements a failure-isolation state machine
// fronting the LLM provider call, with the half-open probe narrowed to
// exactly one concurrent call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned immediately when the breaker is OPEN or when
// a concurrent call arrives while a HALF_OPEN probe is already in flight.
var ErrCircuitOpen = errors.New("circuit-open")

// ErrOperationTimeout is returned when the wrapped operation does not
// complete within Config.OperationTimeout.
var ErrOperationTimeout = errors.New("operation-timeout")

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN. Must be > 0.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays OPEN before admitting
	// a single HALF_OPEN probe. Must be > 0.
	RecoveryTimeout time.Duration

	// OperationTimeout bounds each call; zero disables the timeout.
	OperationTimeout time.Duration

	// OnStateChange, if set, is invoked (from a new goroutine) on every
	// state transition.
	OnStateChange func(from, to State)

	// Name labels this breaker's Prometheus series (e.g. the provider id).
	// Defaults to "default".
	Name string
}

// Metrics is the snapshot returned by GetMetrics.
type Metrics struct {
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	AverageResponseTime time.Duration
	LastFailureAt       time.Time
}

// Breaker wraps a single async operation with CLOSED/OPEN/HALF_OPEN
// failure isolation.
type Breaker struct {
	cfg Config

	mu                sync.Mutex
	state             State
	consecutiveFails  int
	lastFailureAt     time.Time
	halfOpenInFlight  bool

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalSuccessTime    time.Duration
}

// New creates a Breaker. FailureThreshold and RecoveryTimeout must be
// positive; a zero OperationTimeout disables the per-call timeout.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	b := &Breaker{cfg: cfg, state: Closed}
	ObserveState(cfg.Name, Closed)
	return b
}

type result struct {
	err error
}

// Call executes fn, respecting the breaker's current state. It returns
// ErrCircuitOpen without invoking fn when the breaker is OPEN (or a probe
// is already in flight in HALF_OPEN), ErrOperationTimeout if fn exceeds
// Config.OperationTimeout, or fn's own error/nil otherwise.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.OperationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	resultCh := make(chan result, 1)
	start := time.Now()
	go func() {
		resultCh <- result{err: fn(callCtx)}
	}()

	select {
	case <-callCtx.Done():
		b.afterCall(false, 0)
		return ErrOperationTimeout
	case res := <-resultCh:
		elapsed := time.Since(start)
		b.afterCall(res.err == nil, elapsed)
		return res.err
	}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil

	case Open:
		if time.Since(b.lastFailureAt) > b.cfg.RecoveryTimeout {
			b.setStateLocked(HalfOpen)
			b.halfOpenInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case HalfOpen:
		if b.halfOpenInFlight {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) afterCall(success bool, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	if success {
		b.successfulRequests++
		b.totalSuccessTime += elapsed
		ObserveOutcome(b.cfg.Name, "success")
	} else {
		b.failedRequests++
		b.lastFailureAt = time.Now()
		ObserveOutcome(b.cfg.Name, "failure")
	}

	switch b.state {
	case Closed:
		if success {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.setStateLocked(Open)
		}

	case HalfOpen:
		b.halfOpenInFlight = false
		if success {
			b.setStateLocked(Closed)
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		b.setStateLocked(Open)

	case Open:
		// a stray completion after the probe window; nothing to do.
	}
}

func (b *Breaker) setStateLocked(newState State) {
	old := b.state
	b.state = newState
	ObserveState(b.cfg.Name, newState)
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(old, newState)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetMetrics returns a point-in-time snapshot of the breaker's counters.
func (b *Breaker) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	var avg time.Duration
	if b.successfulRequests > 0 {
		avg = b.totalSuccessTime / time.Duration(b.successfulRequests)
	}
	return Metrics{
		TotalRequests:       b.totalRequests,
		SuccessfulRequests:  b.successfulRequests,
		FailedRequests:      b.failedRequests,
		AverageResponseTime: avg,
		LastFailureAt:       b.lastFailureAt,
	}
}

// Reset forces the breaker to CLOSED with zero failure counters. Request
// totals in GetMetrics are preserved; only the trip state resets.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = Closed
	ObserveState(b.cfg.Name, Closed)
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
	if b.cfg.OnStateChange != nil && old != Closed {
		go b.cfg.OnStateChange(old, Closed)
	}
}

// ForceOpen forces the breaker to OPEN, as if the failure threshold had
// just been reached.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = time.Now()
	b.setStateLocked(Open)
}
