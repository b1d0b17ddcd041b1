package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/council-run/council"
)

// handleStream implements POST /api/conversations/{id}/message/stream:
// a server-sent-events rendering of one deliberation, emitting events in
// strict stage order per spec §4.7 even though the underlying fan-outs
// complete out of order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req councilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	models := resolveAliases(req.Models)
	chairman := council.ResolveModelAlias(req.Chairman)

	emit := func(event council.StreamEvent) {
		writeSSE(w, flusher, string(event.Type), event.Payload)
	}

	defer func() {
		if rec := recover(); rec != nil {
			writeSSE(w, flusher, "error", map[string]string{"type": "error", "message": fmt.Sprintf("%v", rec)})
		}
	}()

	s.deps.Engine.RunStream(requestContext(r), council.DeliberationRequest{
		Query:         req.Query,
		CouncilModels: models,
		Chairman:      chairman,
		FinalOnly:     req.FinalOnly,
	}, true, emit)
}

// writeSSE writes one server-sent-event frame: "event: <type>\ndata: <json>\n\n".
func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}
