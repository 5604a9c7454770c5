package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AdmitsUpToConcurrencyLimit(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 2, QueueLimit: 0})

	release := make(chan struct{})
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Submit(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started
	s := g.State()
	assert.Equal(t, 2, s.InFlight)

	close(release)
	wg.Wait()
}

func TestGate_RejectsWhenQueueExhausted(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, QueueLimit: 0})

	release := make(chan struct{})
	go func() {
		_ = g.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond) // ensure the first task is in flight

	err := g.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueExhausted)
	assert.EqualValues(t, 1, g.GetRejectCount())

	close(release)
}

func TestGate_EnqueuesAndPromotesFIFO(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, QueueLimit: 2})

	release := make(chan struct{})
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	for i := 1; i <= 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Submit(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 2, g.GetDepth())

	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestGate_CancelWhileQueuedDoesNotCountAsRejected(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, QueueLimit: 1})

	release := make(chan struct{})
	go func() {
		_ = g.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Submit(ctx, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, g.GetRejectCount())
	assert.Equal(t, 0, g.GetDepth())

	close(release)
}

func TestGate_ClampsConcurrencyAndQueueLimits(t *testing.T) {
	var clamped []string
	g := New(Config{
		ConcurrencyLimit: 50_000,
		QueueLimit:       50_000,
		OnClamp:          func(field string, requested, c int) { clamped = append(clamped, field) },
	})
	assert.Equal(t, safeUpperBound, g.concurrencyLimit)
	assert.Equal(t, safeUpperBound, g.queueLimit)
	assert.ElementsMatch(t, []string{"ConcurrencyLimit", "QueueLimit"}, clamped)
}

func TestGate_ZeroConcurrencyLimitClampedToOne(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 0, QueueLimit: 0})
	assert.Equal(t, 1, g.concurrencyLimit)
}

func TestGate_StateReflectsInFlightAndWaiting(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, QueueLimit: 1})
	s := g.State()
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, 0, s.Waiting)
	assert.EqualValues(t, 0, s.RejectedTotal)
}
