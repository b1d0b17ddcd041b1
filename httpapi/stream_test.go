package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleStreamEmitsSSEEvents(t *testing.T) {
	server := newTestServer("")

	body, _ := json.Marshal(councilRequest{Query: "q", FinalOnly: true})
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/message/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	out := w.Body.String()
	for _, want := range []string{"event: stage1_start", "event: stage3_complete", "event: complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected SSE output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestHandleStreamRejectsMissingQuery(t *testing.T) {
	server := newTestServer("")

	body, _ := json.Marshal(councilRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/message/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
