// Package qerrors implements the analysis orchestrator: the single
// public entry point that wires the sanitizer, fingerprinter, advice
// cache, concurrency gate, circuit breaker, and provider adapter into
// one at-most-once-per-error remediation pipeline.
package qerrors

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bijikyu/qerrors-go/cache"
	"github.com/bijikyu/qerrors-go/circuitbreaker"
	"github.com/bijikyu/qerrors-go/fingerprint"
	"github.com/bijikyu/qerrors-go/gate"
	"github.com/bijikyu/qerrors-go/logx"
	"github.com/bijikyu/qerrors-go/provider"
	"github.com/bijikyu/qerrors-go/sanitize"
)

// ErrorRecord is the transient per-call input to Analyze.
type ErrorRecord struct {
	Name    string
	Message string
	Stack   string
	Context map[string]any
}

// Advice is the opaque remediation payload returned by a provider.
type Advice = provider.Advice

// Options configures an Orchestrator.
type Options struct {
	Cache      *cache.Cache
	Gate       *gate.Gate
	Breaker    *circuitbreaker.Breaker
	Registry   *provider.Registry
	Logger     *logx.Logger

	// DefaultProvider selects a named provider ahead of priority order.
	DefaultProvider string

	// Model, MaxOutputTokens, Temperature shape every provider request.
	Model           string
	MaxOutputTokens int
	Temperature     float32

	// SecureFingerprint switches fingerprinting to the cryptographic
	// digest form (USE_SECURE_CACHE_KEYS).
	SecureFingerprint bool

	// ReentrantPrefixes names error.Name prefixes that identify the
	// library's own outbound HTTP client, breaking reentrant analysis
	// loops.
	ReentrantPrefixes []string
}

// Orchestrator is the only component that writes to the cache and the
// only component that invokes the breaker/gate in production paths.
type Orchestrator struct {
	opts Options

	warnOnce sync.Once

	// inflight coalesces concurrent Analyze calls that share a
	// fingerprint (a burst of goroutines hitting the same error) into a
	// single gate/breaker/provider round trip.
	inflight singleflight.Group
}

// analysisOutcome is the value coalesced calls share via singleflight:
// either a successful Advice or the failure kind/message to log.
type analysisOutcome struct {
	advice  *Advice
	kind    string
	message string
}

// New constructs an Orchestrator. A nil Logger is replaced with a no-op
// logger so callers are never required to configure logging.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logx.Nop()
	}
	return &Orchestrator{opts: opts}
}

// Analyze is the single public operation. It never throws: every
// internal failure collapses to a nil Advice. Failures are logged as a
// WARN record naming the failure kind, except an absent provider
// credential, which is warned about once per Orchestrator.
func (o *Orchestrator) Analyze(ctx context.Context, rec ErrorRecord) *Advice {
	incidentID := uuid.NewString()

	if o.isReentrant(rec.Name) {
		o.warn(incidentID, "reentrant-transport", nil)
		return nil
	}

	fp := fingerprint.Fingerprint(rec.Name, rec.Message, rec.Stack, o.opts.SecureFingerprint)

	if o.opts.Cache != nil {
		if cached, ok := o.opts.Cache.Get(fp); ok {
			if advice, ok := cached.(Advice); ok {
				return &advice
			}
		}
	}

	p, err := o.opts.Registry.Select(o.opts.DefaultProvider)
	if err != nil {
		o.warnAbsentCredentialOnce(incidentID)
		return nil
	}

	prompt := o.buildPrompt(rec)
	outcome, _, _ := o.inflight.Do(fp, func() (any, error) {
		return o.submit(ctx, p, prompt), nil
	})
	out := outcome.(*analysisOutcome)

	if out.kind != "" {
		context := map[string]any{}
		if out.message != "" {
			context["error"] = out.message
		}
		o.warn(incidentID, out.kind, context)
		return nil
	}

	if out.advice == nil || strings.TrimSpace(out.advice.Advice) == "" {
		return nil
	}

	if o.opts.Cache != nil {
		o.opts.Cache.Put(fp, *out.advice)
	}
	return out.advice
}

// submit runs one gate -> breaker -> provider round trip and collapses
// the three possible failure sources into a single analysisOutcome so
// singleflight callers share one well-typed result.
func (o *Orchestrator) submit(ctx context.Context, p provider.Provider, prompt string) *analysisOutcome {
	req := provider.Request{
		Prompt:          prompt,
		Model:           o.opts.Model,
		MaxOutputTokens: o.opts.MaxOutputTokens,
		Temperature:     o.opts.Temperature,
		JSONMode:        true,
	}

	var result *Advice
	var callErr error

	task := func(ctx context.Context) error {
		return o.opts.Breaker.Call(ctx, func(ctx context.Context) error {
			advice, err := p.Analyze(ctx, req)
			if err != nil {
				callErr = err
				return err
			}
			result = advice
			return nil
		})
	}

	var gateErr error
	if o.opts.Gate != nil {
		gateErr = o.opts.Gate.Submit(ctx, task)
	} else {
		gateErr = task(ctx)
	}

	switch {
	case gateErr == gate.ErrQueueExhausted:
		return &analysisOutcome{kind: "queue-exhausted"}
	case gateErr == circuitbreaker.ErrCircuitOpen:
		return &analysisOutcome{kind: "circuit-open"}
	case gateErr == circuitbreaker.ErrOperationTimeout:
		return &analysisOutcome{kind: "operation-timeout"}
	case callErr != nil:
		return &analysisOutcome{kind: failureKind(callErr), message: callErr.Error()}
	case gateErr != nil:
		return &analysisOutcome{kind: "transport-error", message: gateErr.Error()}
	}

	return &analysisOutcome{advice: result}
}

func (o *Orchestrator) isReentrant(name string) bool {
	for _, prefix := range o.opts.ReentrantPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) buildPrompt(rec ErrorRecord) string {
	name := sanitize.Message(rec.Name)
	message := sanitize.Message(rec.Message)
	stack := provider.TruncateStack(sanitize.Message(rec.Stack))
	context := sanitize.Context(rec.Context)

	return fmt.Sprintf(
		"Analyze this error and respond with a single-line JSON object of the form "+
			`{"advice": "<remediation>"} and no other text. `+
			"name=%q message=%q context=%v stack=%q",
		name, message, context, stack,
	)
}

func (o *Orchestrator) warnAbsentCredentialOnce(incidentID string) {
	o.warnOnce.Do(func() {
		o.opts.Logger.Emit(logx.Warn, "no provider credential available", nil, incidentID)
	})
}

func (o *Orchestrator) warn(incidentID, kind string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	context["kind"] = kind
	o.opts.Logger.Emit(logx.Warn, "analysis failed", context, incidentID)
}

func failureKind(err error) string {
	if perr, ok := err.(*provider.Error); ok {
		return string(perr.Kind)
	}
	return "transport-error"
}
