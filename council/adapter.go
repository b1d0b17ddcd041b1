// Package council implements the deliberation engine: a three-stage
// solicit/rank/synthesize protocol run across a configurable panel of
// LLM providers.
package council

import (
	"context"
	"time"
)

// LLMAdapter abstracts a single provider's chat-completion call. Each
// adapter is responsible for translating CompletionRequest into its
// provider's wire format and translating the response back into a
// CompletionResponse.
//
// Complete returns a non-nil error on any transport failure, non-2xx
// status, or schema mismatch. Callers in this package (the Router) treat
// every such error identically — as "no response" — and never propagate
// it further; adapters themselves never panic.
type LLMAdapter interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is the uniform shape handed to every adapter.
type CompletionRequest struct {
	// Model is the provider-native model id (already resolved by the Router).
	Model string

	Messages []Message

	// System is an optional system prompt. Adapters that require a
	// separate system-instruction field (Gemini) use this; adapters that
	// fold it into Messages (OpenAI-style) do the same.
	System string

	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// TokenUsage is the uniform token-accounting shape. Missing upstream
// counters default to zero.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the uniform shape returned by every adapter.
type CompletionResponse struct {
	Content      string
	Usage        TokenUsage
	Provider     string
	Model        string
	FinishReason string
}
