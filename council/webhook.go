package council

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// WebhookDefaultRetries is the attempt budget per delivery.
const WebhookDefaultRetries = 3

// WebhookDefaultTimeout bounds a single delivery attempt.
const WebhookDefaultTimeout = 30 * time.Second

const webhookUserAgent = "Council-Webhook/1.0"

// WebhookDispatcher POSTs deliberation outcomes to a caller-supplied URL,
// signing the body with HMAC-SHA256 when a secret is configured and
// retrying with exponential backoff on any transport error, timeout, or
// non-2xx response.
type WebhookDispatcher struct {
	client  *http.Client
	logger  Logger
	retries int
}

// NewWebhookDispatcher creates a Dispatcher. timeout bounds each attempt;
// retries <= 0 uses WebhookDefaultRetries.
func NewWebhookDispatcher(timeout time.Duration, retries int, logger Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = WebhookDefaultTimeout
	}
	if retries <= 0 {
		retries = WebhookDefaultRetries
	}
	if logger == nil {
		logger = NoopLogger{}
	}
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		retries: retries,
	}
}

// CompletedPayload is the wire shape posted on successful deliberation.
type CompletedPayload struct {
	Event    string         `json:"event"`
	JobID    string         `json:"job_id"`
	Query    string         `json:"query"`
	Result   any            `json:"result"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Timing   WebhookTiming  `json:"timing"`
}

// FailedPayload is the wire shape posted when the engine invocation
// itself raised rather than returning a degenerate result.
type FailedPayload struct {
	Event    string         `json:"event"`
	JobID    string         `json:"job_id"`
	Query    string         `json:"query"`
	Error    string         `json:"error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WebhookTiming echoes job-level timestamps; included only in the success
// payload, per the wire contract.
type WebhookTiming struct {
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Send POSTs payload (any JSON-marshalable value) to url, signs it with
// secret if non-empty, and retries with 2^attempt second backoff between
// tries (no backoff after the final attempt). Returns true iff some
// attempt received an HTTP status below 300.
func (d *WebhookDispatcher) Send(ctx context.Context, url string, payload any, secret string) bool {
	body, err := sortedKeysJSON(payload)
	if err != nil {
		d.logger.Error(ctx, "webhook: marshal payload failed", F("error", err.Error()))
		return false
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   webhookUserAgent,
	}
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		headers["X-Webhook-Signature"] = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	for attempt := 0; attempt < d.retries; attempt++ {
		ok, retryable := d.attempt(ctx, url, body, headers)
		if ok {
			return true
		}
		if !retryable {
			return false
		}

		if attempt < d.retries-1 {
			delay := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}

	return false
}

// attempt issues one delivery try. The second return value reports
// whether the failure class is retryable; every failure this dispatcher
// can observe (timeout, transport error, HTTP >= 300) is retryable, so it
// is always true when ok is false.
func (d *WebhookDispatcher) attempt(ctx context.Context, url string, body []byte, headers map[string]string) (ok bool, retryable bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, true
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn(ctx, "webhook: attempt failed", F("error", err.Error()))
		return false, true
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return true, false
	}
	d.logger.Warn(ctx, "webhook: attempt rejected", F("status", resp.StatusCode))
	return false, true
}

// sortedKeysJSON marshals v through a map with keys sorted lexicographically
// at every level, matching the signing contract's "sorted-keys JSON
// serialization" requirement. encoding/json already sorts map[string]any
// keys; this helper exists to make that guarantee explicit and to apply
// uniformly to any payload struct by round-tripping through an ordered map.
func sortedKeysJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("webhook: normalize: %w", err)
	}

	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}
