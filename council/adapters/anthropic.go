package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/council-run/council"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicTokenURL   = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID   = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	// systemPrefix is prepended to every OAuth-authenticated request's
	// system prompt. The OAuth grant used here is scoped to an
	// interactive coding assistant; omitting this prefix causes the API
	// to reject otherwise-valid requests.
	systemPrefix = "You are Claude Code, Anthropic's official CLI for Claude."

	betaFlags = "oauth-2025-04-20," +
		"claude-code-20250219," +
		"interleaved-thinking-2025-05-14," +
		"fine-grained-tool-streaming-2025-05-14"

	// expiryBuffer is how far ahead of the recorded expiry we treat an
	// OAuth token as already expired, to avoid racing a request against
	// the token's actual expiration.
	expiryBuffer = 60 * time.Second
)

// modelMap translates canonical council model ids to Anthropic's native
// model ids. Ids not present here are passed through unchanged.
var modelMap = map[string]string{
	"anthropic/claude-opus-4.5":   "claude-opus-4-20250514",
	"anthropic/claude-sonnet-4.5": "claude-sonnet-4-20250514",
	"anthropic/claude-3.5-sonnet": "claude-3-5-sonnet-20241022",
	"anthropic/claude-3.5-haiku":  "claude-3-5-haiku-20241022",
	"claude-opus-4.5":             "claude-opus-4-20250514",
	"claude-sonnet-4.5":           "claude-sonnet-4-20250514",
}

// NativeModelID converts a canonical council model id to Anthropic's id.
func NativeModelID(canonical string) string {
	if native, ok := modelMap[canonical]; ok {
		return native
	}
	return canonical
}

// IsAnthropicModel reports whether a canonical model id should be routed
// directly to Anthropic.
func IsAnthropicModel(modelID string) bool {
	if _, ok := modelMap[modelID]; ok {
		return true
	}
	return hasPrefix(modelID, "anthropic/") || hasPrefix(modelID, "claude-")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// oauthCredentials is the subset of an OpenCode-style auth file's
// "anthropic" entry this adapter needs.
type oauthCredentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// authFile mirrors the on-disk auth file shape; other top-level keys are
// preserved verbatim on read-modify-write.
type authFile map[string]json.RawMessage

type anthropicEntry struct {
	Type    string `json:"type"`
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// defaultAuthPaths lists the candidate on-disk locations for OAuth
// credentials, checked in order. The first that exists and parses wins.
func defaultAuthPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".local", "share", "opencode", "auth.json"),
		filepath.Join(home, ".opencode", "data", "auth.json"),
		filepath.Join(home, ".config", "opencode", "auth.json"),
	}
}

// AnthropicAdapter implements council.LLMAdapter for Claude models. It
// prefers an OAuth-backed credential (refreshed on demand) over a static
// API key, and falls back to the API key on any OAuth request failure.
type AnthropicAdapter struct {
	apiKey     string
	httpClient *http.Client
	sdkClient  *anthropic.Client

	authPaths []string
	mu        sync.Mutex // serializes credential read-refresh-write
}

// NewAnthropicAdapter creates an adapter backed by the given API key, with
// OAuth credentials (if present on disk) preferred when valid.
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		sdkClient:  &client,
		authPaths:  defaultAuthPaths(),
	}
}

// Complete implements council.LLMAdapter.
func (a *AnthropicAdapter) Complete(ctx context.Context, req *council.CompletionRequest) (*council.CompletionResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if token, ok := a.validOAuthToken(ctx); ok {
		resp, err := a.completeOAuth(ctx, req, token)
		if err == nil {
			return resp, nil
		}
		// OAuth path failed (expired/revoked token, capacity error, …);
		// fall back to the API key rather than surface the error.
	}

	return a.completeAPIKey(ctx, req)
}

// completeAPIKey uses the official SDK, matching every other non-OpenAI
// adapter's pattern.
func (a *AnthropicAdapter) completeAPIKey(ctx context.Context, req *council.CompletionRequest) (*council.CompletionResponse, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(NativeModelID(req.Model)),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  convertToAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.sdkClient.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages.new failed: %w", err)
	}

	return convertAnthropicMessage(msg, "anthropic"), nil
}

// completeOAuth bypasses the SDK: the OAuth grant requires an Authorization
// bearer header and a claude-code beta flag the SDK's API-key auth path
// does not produce, plus the system-prompt prefix the grant is scoped to.
func (a *AnthropicAdapter) completeOAuth(ctx context.Context, req *council.CompletionRequest, accessToken string) (*council.CompletionResponse, error) {
	nativeModel := NativeModelID(req.Model)

	system := systemPrefix
	if req.System != "" {
		system = systemPrefix + "\n\n" + req.System
	}

	payload := map[string]any{
		"model":      nativeModel,
		"max_tokens": maxTokensOrDefault(req.MaxTokens),
		"messages":   rawAnthropicMessages(req.Messages),
		"system":     system,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic oauth: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic oauth: build request: %w", err)
	}
	httpReq.Header.Set("authorization", "Bearer "+accessToken)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("anthropic-beta", betaFlags)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic oauth: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic oauth: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("anthropic oauth: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic oauth: decode response: %w", err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &council.CompletionResponse{
		Content:  text,
		Provider: "anthropic-oauth",
		Model:    nativeModel,
		Usage: council.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// validOAuthToken loads on-disk OAuth credentials, refreshing them if
// they're within expiryBuffer of expiring. Returns ok=false when no OAuth
// credentials are configured or refresh fails, in which case the caller
// should fall back to the API key.
func (a *AnthropicAdapter) validOAuthToken(ctx context.Context) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, creds := a.loadOAuthCredentials()
	if creds == nil {
		return "", false
	}

	now := time.Now().UnixMilli()
	if creds.Access != "" && creds.Expires > now+expiryBuffer.Milliseconds() {
		return creds.Access, true
	}

	if creds.Refresh == "" {
		return "", false
	}

	refreshed, err := a.refreshOAuthToken(ctx, creds.Refresh)
	if err != nil {
		return "", false
	}

	if err := a.saveOAuthCredentials(path, refreshed); err != nil {
		// Non-fatal: still use the freshly obtained token for this call.
		_ = err
	}

	return refreshed.Access, true
}

func (a *AnthropicAdapter) loadOAuthCredentials() (string, *oauthCredentials) {
	for _, path := range a.authPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed struct {
			Anthropic anthropicEntry `json:"anthropic"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			continue
		}
		if parsed.Anthropic.Type != "oauth" {
			continue
		}
		return path, &oauthCredentials{
			Access:  parsed.Anthropic.Access,
			Refresh: parsed.Anthropic.Refresh,
			Expires: parsed.Anthropic.Expires,
		}
	}
	return "", nil
}

func (a *AnthropicAdapter) refreshOAuthToken(ctx context.Context, refreshToken string) (*oauthCredentials, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     anthropicClientID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicTokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token refresh failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}

	return &oauthCredentials{
		Access:  parsed.AccessToken,
		Refresh: parsed.RefreshToken,
		Expires: time.Now().UnixMilli() + expiresIn*1000,
	}, nil
}

// saveOAuthCredentials writes the refreshed tokens back to the auth file,
// preserving every other top-level key untouched.
func (a *AnthropicAdapter) saveOAuthCredentials(path string, creds *oauthCredentials) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc authFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	entry := anthropicEntry{
		Type:    "oauth",
		Access:  creds.Access,
		Refresh: creds.Refresh,
		Expires: creds.Expires,
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	doc["anthropic"] = encoded
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func convertToAnthropicMessages(messages []council.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

func rawAnthropicMessages(messages []council.Message) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role != "user" && role != "assistant" {
			continue
		}
		out = append(out, map[string]string{"role": role, "content": msg.Content})
	}
	return out
}

func convertAnthropicMessage(msg *anthropic.Message, provider string) *council.CompletionResponse {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &council.CompletionResponse{
		Content:      text,
		Provider:     provider,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: council.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	return 4096
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
