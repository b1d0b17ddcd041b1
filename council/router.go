package council

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Provider is a registered adapter plus the rate limit and retry budget
// that govern calls issued through it.
type Provider struct {
	Name    string
	Adapter LLMAdapter
	// RPS is the steady-state requests-per-second this provider's channel
	// is allowed to sustain. Zero means unlimited.
	RPS   float64
	Burst int
	// Timeout overrides the CompletionRequest's timeout for calls through
	// this provider when non-zero (a deployment's per-provider YAML override).
	Timeout time.Duration
	// MaxRetries is the number of attempts made against this provider
	// before treating the call as failed. Zero or negative means 1 (no
	// extra retries), matching prior behavior for providers that don't
	// set it.
	MaxRetries int
}

// classifier decides whether a canonical model id belongs to a provider.
// Classifiers are tried in registration order; the first match wins. This
// mirrors the ordered-predicate classification the spec requires instead
// of ad hoc string heuristics.
type classifier func(modelID string) bool

// Router classifies a canonical model id to a provider, dispatches a
// single call, and applies the static fallback map on primary failure.
type Router struct {
	logger Logger

	providers    map[string]*Provider
	classifiers  []classifierEntry
	fallbackMap  map[string]string
	genericAdapt string // provider name used for the one fallback retry

	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

type classifierEntry struct {
	provider string
	match    classifier
}

// NewRouter creates an empty Router. Register providers and classification
// rules with RegisterProvider/ClassifyPrefix/ClassifyMembership before use.
func NewRouter(logger Logger) *Router {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Router{
		logger:      logger,
		providers:   make(map[string]*Provider),
		fallbackMap: make(map[string]string),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// RegisterProvider adds or replaces a provider definition.
func (r *Router) RegisterProvider(p *Provider) {
	r.providers[p.Name] = p
}

// Provider returns the registered provider definition for name, or nil if
// none is registered. Used by deployment-time wiring that layers YAML
// overrides onto an already-registered provider.
func (r *Router) Provider(name string) *Provider {
	return r.providers[name]
}

// ClassifyPrefix routes any model id with the given prefix to provider.
func (r *Router) ClassifyPrefix(provider, prefix string) {
	r.classifiers = append(r.classifiers, classifierEntry{
		provider: provider,
		match:    func(modelID string) bool { return strings.HasPrefix(modelID, prefix) },
	})
}

// ClassifyMembership routes model ids in the given fixed set to provider.
func (r *Router) ClassifyMembership(provider string, ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.classifiers = append(r.classifiers, classifierEntry{
		provider: provider,
		match:    func(modelID string) bool { _, ok := set[modelID]; return ok },
	})
}

// SetDefaultProvider names the provider used when no classifier matches
// (the generic OpenAI-compatible adapter, in practice).
func (r *Router) SetDefaultProvider(provider string) {
	r.genericAdapt = provider
}

// SetFallback registers a static canonical-id -> fallback-canonical-id
// mapping, always retried through the default/generic provider.
func (r *Router) SetFallback(from, to string) {
	r.fallbackMap[from] = to
}

// classify returns the provider name for a model id, or the default
// provider ("" when none is set) if no classifier matches.
func (r *Router) classify(modelID string) string {
	for _, c := range r.classifiers {
		if c.match(modelID) {
			return c.provider
		}
	}
	return r.genericAdapt
}

// Dispatch implements the Router's single operation: classify, rate-limit,
// call, and on "no response" consult the fallback map exactly once through
// the generic adapter. Never returns an error up the stack — absence is
// communicated via the second return value.
func (r *Router) Dispatch(ctx context.Context, modelID string, req *CompletionRequest) (*CompletionResponse, bool) {
	providerName := r.classify(modelID)
	resp, ok := r.call(ctx, providerName, modelID, req)
	if ok {
		return resp, true
	}

	fallbackID, hasFallback := r.fallbackMap[modelID]
	if !hasFallback {
		return nil, false
	}

	r.logger.Info(ctx, "router: falling back", F("from", modelID), F("to", fallbackID))
	fallbackReq := *req
	fallbackReq.Model = fallbackID
	return r.call(ctx, r.genericAdapt, fallbackID, &fallbackReq)
}

func (r *Router) call(ctx context.Context, providerName, modelID string, req *CompletionRequest) (*CompletionResponse, bool) {
	provider, ok := r.providers[providerName]
	if !ok || provider.Adapter == nil {
		r.logger.Warn(ctx, "router: "+ErrNoProvider.Error(), F("model", modelID), F("provider", providerName))
		return nil, false
	}

	if limiter := r.limiterFor(provider); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			r.logger.Warn(ctx, "router: rate limit wait failed", F("provider", providerName), F("error", err.Error()))
			return nil, false
		}
	}

	callReq := *req
	callReq.Model = modelID
	if provider.Timeout > 0 {
		callReq.Timeout = provider.Timeout
	}

	attempts := provider.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := provider.Adapter.Complete(ctx, &callReq)
		if err == nil {
			return resp, true
		}
		provErr := NewProviderError(providerName, modelID, 0, err)
		r.logger.Warn(ctx, "router: provider call failed",
			F("provider", providerName), F("model", modelID), F("attempt", attempt+1), F("error", provErr.Error()))
	}

	return nil, false
}

func (r *Router) limiterFor(p *Provider) *rate.Limiter {
	if p.RPS <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[p.Name]; ok {
		return l
	}

	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(p.RPS), burst)
	r.limiters[p.Name] = l
	return l
}

// String renders a provider roster summary.
func (r *Router) String() string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return fmt.Sprintf("Router{providers=%v}", names)
}
