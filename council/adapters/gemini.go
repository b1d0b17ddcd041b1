package adapters

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/council-run/council"
)

// GeminiAdapter wraps the Google Generative AI Go SDK. Gemini cannot be
// normalized into the OpenAI-style request shape: the system prompt is a
// separate SystemInstruction field rather than a message, roles are "user"
// and "model" rather than "user" and "assistant", temperature is clamped to
// 0.0–1.0, and content is built from "parts" rather than a flat string.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates a new adapter for Google Gemini.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

// Close releases the underlying client's resources.
func (a *GeminiAdapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Complete implements council.LLMAdapter.
func (a *GeminiAdapter) Complete(ctx context.Context, req *council.CompletionRequest) (*council.CompletionResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := a.client.GenerativeModel(req.Model)
	a.configureModel(model, req)

	parts := convertMessagesToParts(req.Messages)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content failed: %w", err)
	}

	out, err := a.convertResponse(resp)
	if err != nil {
		return nil, err
	}
	out.Model = req.Model
	return out, nil
}

func (a *GeminiAdapter) configureModel(model *genai.GenerativeModel, req *council.CompletionRequest) {
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		if temp > 1.0 {
			temp = 1.0
		}
		model.SetTemperature(temp)
	}

	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
}

// convertMessagesToParts flattens our Message slice into Gemini parts.
// Gemini has no notion of a "system" role message once SystemInstruction is
// set, so system-role entries here are skipped; the only two roles that
// reach the model are "user" and "assistant" (mapped to plain text parts
// in conversation order, since this adapter is only ever given a single
// user turn by the engine).
func convertMessagesToParts(messages []council.Message) []genai.Part {
	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "user" || msg.Role == "assistant" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

// convertResponse converts Gemini's response into the uniform shape. A
// response with no candidates (content-filtered or otherwise malformed)
// is reported as an error rather than a blank success, so the Router
// treats it as no response rather than a phantom empty answer.
func (a *GeminiAdapter) convertResponse(resp *genai.GenerateContentResponse) (*council.CompletionResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: generate content returned no candidates")
	}

	result := &council.CompletionResponse{Provider: "gemini"}

	candidate := resp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			result.Content += string(txt)
		}
	}
	if candidate.FinishReason != genai.FinishReasonUnspecified {
		result.FinishReason = candidate.FinishReason.String()
	}

	if resp.UsageMetadata != nil {
		result.Usage = council.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return result, nil
}
