// Package adapters provides per-provider implementations of council.LLMAdapter.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/council-run/council"
)

// OpenAIStyleAdapter wraps the OpenAI Go SDK and backs every provider that
// exposes an OpenAI-compatible chat-completions endpoint: OpenRouter,
// Cerebras, Fireworks, z.ai, Groq, Moonshot, xAI direct, and Ollama. Only
// the base URL and API key differ between them.
type OpenAIStyleAdapter struct {
	client   *openai.Client
	provider string

	// maxTokensCap clamps MaxTokens for providers that cap non-streaming
	// completions below the request's requested value. Zero means
	// "no cap".
	maxTokensCap int

	// fixedTemperature, when non-zero, overrides any requested
	// temperature. Some "thinking" models require a fixed sampling
	// temperature regardless of what the caller asked for.
	fixedTemperature float64
}

// NewOpenAIStyleAdapter creates an adapter for an OpenAI-compatible endpoint.
func NewOpenAIStyleAdapter(provider, apiKey, baseURL string) *OpenAIStyleAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIStyleAdapter{client: &client, provider: provider}
}

// WithMaxTokensCap sets a hard ceiling on MaxTokens for this adapter's
// provider (e.g. a model family that rejects non-streaming requests above
// a documented cap).
func (a *OpenAIStyleAdapter) WithMaxTokensCap(cap int) *OpenAIStyleAdapter {
	a.maxTokensCap = cap
	return a
}

// WithFixedTemperature forces every request through this adapter to use
// the given temperature, ignoring CompletionRequest.Temperature.
func (a *OpenAIStyleAdapter) WithFixedTemperature(temp float64) *OpenAIStyleAdapter {
	a.fixedTemperature = temp
	return a
}

// Complete implements council.LLMAdapter.
func (a *OpenAIStyleAdapter) Complete(ctx context.Context, req *council.CompletionRequest) (*council.CompletionResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	params := a.buildParams(req)

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion request failed: %w", a.provider, err)
	}

	return a.convertResponse(completion)
}

func (a *OpenAIStyleAdapter) buildParams(req *council.CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: a.convertMessages(req),
	}

	temp := req.Temperature
	if a.fixedTemperature != 0 {
		temp = a.fixedTemperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}

	maxTokens := req.MaxTokens
	if a.maxTokensCap > 0 && (maxTokens == 0 || maxTokens > a.maxTokensCap) {
		maxTokens = a.maxTokensCap
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	return params
}

func (a *OpenAIStyleAdapter) convertMessages(req *council.CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	return messages
}

// convertResponse converts OpenAI's response into the uniform shape.
// Thinking-style models sometimes return an empty visible content field
// and carry their answer in a provider-specific "reasoning" field instead;
// fall back to that when content is empty. A missing choices array is a
// malformed payload, not a blank answer, so it is reported as an error and
// the Router treats the call as having produced no response.
func (a *OpenAIStyleAdapter) convertResponse(completion *openai.ChatCompletion) (*council.CompletionResponse, error) {
	resp := &council.CompletionResponse{
		Provider: a.provider,
		Model:    completion.Model,
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: chat completion returned no choices", a.provider)
	}

	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	resp.FinishReason = string(choice.FinishReason)

	if resp.Content == "" && choice.Message.JSON.ExtraFields != nil {
		// Raw() is the field's JSON encoding; decode it to get the text
		// without its surrounding quotes.
		var text string
		if reasoning, ok := choice.Message.JSON.ExtraFields["reasoning"]; ok && json.Unmarshal([]byte(reasoning.Raw()), &text) == nil {
			resp.Content = text
		}
		if resp.Content == "" {
			if reasoning, ok := choice.Message.JSON.ExtraFields["reasoning_content"]; ok && json.Unmarshal([]byte(reasoning.Raw()), &text) == nil {
				resp.Content = text
			}
		}
	}

	resp.Usage = council.TokenUsage{
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}

	return resp, nil
}

// defaultTimeout is a 120s per-call default. Nothing in this package applies
// it: Complete sets a deadline only when CompletionRequest.Timeout is set.
const defaultTimeout = 120 * time.Second
