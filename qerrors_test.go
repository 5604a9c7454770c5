package qerrors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bijikyu/qerrors-go/cache"
	"github.com/bijikyu/qerrors-go/circuitbreaker"
	"github.com/bijikyu/qerrors-go/gate"
	"github.com/bijikyu/qerrors-go/provider"
)

type fakeProvider struct {
	mu       sync.Mutex
	name     string
	advice   *provider.Advice
	err      error
	credited bool
	calls    int
	block    chan struct{}
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) HasCredential() bool { return f.credited }
func (f *fakeProvider) Analyze(ctx context.Context, req provider.Request) (*provider.Advice, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.advice, f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newOrchestrator(t *testing.T, p *fakeProvider) (*Orchestrator, *fakeProvider) {
	t.Helper()
	reg := provider.NewRegistry(nil, p)
	o := New(Options{
		Cache:   cache.New(cache.Config{MaxEntries: 10, TTL: time.Minute}),
		Gate:    gate.New(gate.Config{ConcurrencyLimit: 2, QueueLimit: 2}),
		Breaker: circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}),
		Registry: reg,
	})
	return o, p
}

func TestAnalyze_ReturnsAdviceOnSuccess(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, advice: &provider.Advice{Advice: "restart the pod"}}
	o, _ := newOrchestrator(t, p)

	advice := o.Analyze(context.Background(), ErrorRecord{Name: "Err", Message: "boom", Stack: "l1\nl2"})
	require.NotNil(t, advice)
	assert.Equal(t, "restart the pod", advice.Advice)
}

func TestAnalyze_CacheHitAvoidsSecondProviderCall(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, advice: &provider.Advice{Advice: "check logs"}}
	o, fp := newOrchestrator(t, p)

	rec := ErrorRecord{Name: "Err", Message: "boom", Stack: "l1"}
	first := o.Analyze(context.Background(), rec)
	require.NotNil(t, first)
	assert.Equal(t, 1, fp.callCount())

	second := o.Analyze(context.Background(), rec)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, fp.callCount(), "second call within TTL must not invoke the provider")
}

func TestAnalyze_NoAdviceReturnsNilWithoutCaching(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, advice: nil}
	o, fp := newOrchestrator(t, p)

	rec := ErrorRecord{Name: "Err", Message: "boom", Stack: "l1"}
	advice := o.Analyze(context.Background(), rec)
	assert.Nil(t, advice)

	advice2 := o.Analyze(context.Background(), rec)
	assert.Nil(t, advice2)
	assert.Equal(t, 2, fp.callCount(), "no-advice must not populate the cache")
}

func TestAnalyze_AbsentCredentialReturnsNil(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: false}
	o, _ := newOrchestrator(t, p)

	advice := o.Analyze(context.Background(), ErrorRecord{Name: "Err", Message: "boom"})
	assert.Nil(t, advice)
}

func TestAnalyze_ReentrantPrefixShortCircuits(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, advice: &provider.Advice{Advice: "x"}}
	reg := provider.NewRegistry(nil, p)
	o := New(Options{
		Registry:          reg,
		ReentrantPrefixes: []string{"QerrorsHTTPClient"},
	})

	advice := o.Analyze(context.Background(), ErrorRecord{Name: "QerrorsHTTPClientTimeoutError"})
	assert.Nil(t, advice)
	assert.Equal(t, 0, p.callCount())
}

func TestAnalyze_BreakerTripBlocksProviderCall(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, err: &provider.Error{Kind: provider.KindTransport, Provider: "fake", Message: "down"}}
	reg := provider.NewRegistry(nil, p)
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	o := New(Options{
		Cache:    cache.New(cache.Config{MaxEntries: 10, TTL: time.Minute}),
		Gate:     gate.New(gate.Config{ConcurrencyLimit: 1, QueueLimit: 1}),
		Breaker:  breaker,
		Registry: reg,
	})

	// first call fails and trips the breaker
	advice := o.Analyze(context.Background(), ErrorRecord{Name: "Err", Message: "m1"})
	assert.Nil(t, advice)
	require.Equal(t, circuitbreaker.Open, breaker.State())

	// distinct fingerprint (no cache hit) but breaker is open: provider not invoked again
	advice2 := o.Analyze(context.Background(), ErrorRecord{Name: "Err", Message: "m2"})
	assert.Nil(t, advice2)
	assert.Equal(t, 1, p.callCount())
}

func TestAnalyze_GateRejectionReturnsNil(t *testing.T) {
	p := &fakeProvider{name: "fake", credited: true, advice: &provider.Advice{Advice: "x"}}
	reg := provider.NewRegistry(nil, p)
	g := gate.New(gate.Config{ConcurrencyLimit: 1, QueueLimit: 0})
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	o := New(Options{Gate: g, Breaker: breaker, Registry: reg})

	release := make(chan struct{})
	go func() {
		_ = g.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	advice := o.Analyze(context.Background(), ErrorRecord{Name: "Err", Message: "m"})
	assert.Nil(t, advice)
	close(release)
}

func TestAnalyze_ConcurrentCallsWithSameFingerprintCoalesce(t *testing.T) {
	p := &fakeProvider{
		name:     "fake",
		credited: true,
		advice:   &provider.Advice{Advice: "scale out"},
		block:    make(chan struct{}),
	}
	o, fp := newOrchestrator(t, p)
	rec := ErrorRecord{Name: "Err", Message: "boom", Stack: "l1"}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Advice, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Analyze(context.Background(), rec)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(fp.block)
	wg.Wait()

	assert.Equal(t, 1, fp.callCount(), "concurrent callers sharing a fingerprint must coalesce into one provider call")
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "scale out", r.Advice)
	}
}
