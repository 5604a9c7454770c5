// Package provider implements a uniform analyze(prompt) capability over
// one or more LLM backends, reduced to a single-call, advice-shaped
// contract.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Kind classifies a provider failure for the circuit breaker and the
// orchestrator's WARN records.
type Kind string

const (
	KindTransport       Kind = "transport-error"
	KindTimeout         Kind = "operation-timeout"
	KindAbsentCredential Kind = "absent-credential"
	KindParseError      Kind = "parse-error"
	KindContentFiltered Kind = "content-filtered"
	KindNoAdvice        Kind = "no-advice"
)

// Error wraps a provider failure with its Kind, never leaked past the
// orchestrator boundary.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Request is the single-call wire contract carried to a provider.
type Request struct {
	Prompt          string
	Model           string
	MaxOutputTokens int
	Temperature     float32
	JSONMode        bool
}

// Advice is the opaque remediation payload returned by a provider.
type Advice struct {
	Advice string `json:"advice"`
}

// Provider is the uniform capability set implemented over one backend.
type Provider interface {
	// Name identifies the provider (e.g. "openai", "gemini").
	Name() string

	// Analyze issues a single analysis request. It returns
	// (nil, nil) when the response parses but carries no non-empty
	// advice field ("no-advice"), and a non-nil *Error for every other
	// failure.
	Analyze(ctx context.Context, req Request) (*Advice, error)
}

// maxStackLines is the request-shaping cap on the stack excerpt carried
// in the prompt.
const maxStackLines = 20

// TruncateStack keeps only the first maxStackLines lines of a stack
// trace before it is carried into a prompt.
func TruncateStack(stack string) string {
	lines := strings.Split(stack, "\n")
	if len(lines) <= maxStackLines {
		return stack
	}
	return strings.Join(lines[:maxStackLines], "\n")
}

// ErrNoCredential is returned by Select when no configured provider has
// a discoverable credential.
var ErrNoCredential = errors.New("no provider credential available")

// Registry resolves the configured or priority-ordered default provider.
type Registry struct {
	mu      sync.Mutex
	ordered []Provider
	byName  map[string]Provider
	warned  map[string]bool
	onWarn  func(provider string)
}

// NewRegistry builds a Registry over providers in priority order: the
// first element is preferred when no default is configured.
func NewRegistry(onWarn func(provider string), providers ...Provider) *Registry {
	r := &Registry{
		ordered: providers,
		byName:  make(map[string]Provider, len(providers)),
		warned:  make(map[string]bool),
		onWarn:  onWarn,
	}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// hasCredential reports whether p has a discoverable credential.
// Providers that don't implement CredentialChecker are assumed
// always-available.
func (r *Registry) hasCredential(p Provider) bool {
	cc, ok := p.(CredentialChecker)
	if !ok {
		return true
	}
	return cc.HasCredential()
}

// CredentialChecker lets a provider report credential availability
// without making a network call.
type CredentialChecker interface {
	HasCredential() bool
}

// Select resolves defaultName if set and credentialed, otherwise the
// first credentialed provider by priority order. It emits exactly one
// warning per provider name, the first time that provider is found to
// lack a credential.
func (r *Registry) Select(defaultName string) (Provider, error) {
	if defaultName != "" {
		if p, ok := r.byName[defaultName]; ok {
			if r.hasCredential(p) {
				return p, nil
			}
			r.warnOnce(defaultName)
		}
	}

	for _, p := range r.ordered {
		if r.hasCredential(p) {
			return p, nil
		}
		r.warnOnce(p.Name())
	}

	return nil, ErrNoCredential
}

func (r *Registry) warnOnce(name string) {
	r.mu.Lock()
	already := r.warned[name]
	r.warned[name] = true
	r.mu.Unlock()
	if !already && r.onWarn != nil {
		r.onWarn(name)
	}
}
