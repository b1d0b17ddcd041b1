package httpapi

import (
	"net/http"
	"strconv"

	"github.com/council-run/council"
)

// handleRoot and handleHealth both serve liveness + a configuration echo;
// handleRoot additionally doubles as the auth allow-list anchor so
// uptime checks never require a key.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "council",
		"status":  "ok",
		"version": s.deps.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"auth":       s.deps.APIKey != "",
		"has_engine": s.deps.Engine != nil,
	})
}

// infoResponse is the GET /api/info payload: version, the endpoint
// catalog, and the model-alias table so clients can resolve short names
// before calling /api/council.
type infoResponse struct {
	Version   string            `json:"version"`
	Endpoints []string          `json:"endpoints"`
	Aliases   map[string]string `json:"model_aliases"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Version: s.deps.Version,
		Endpoints: []string{
			"GET /health",
			"GET /api/info",
			"GET /api/models",
			"POST /api/council",
			"POST /api/council/async",
			"GET /api/council/jobs",
			"GET /api/council/jobs/{id}",
			"DELETE /api/council/jobs/cleanup",
			"POST /api/conversations/{id}/message/stream",
		},
		Aliases: council.ModelAliases(),
	})
}

// handleModels serves the provider model catalog: GET /api/models[?provider=&refresh=bool].
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": []council.ModelInfo{}})
		return
	}

	provider := r.URL.Query().Get("provider")
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	models, err := s.deps.Catalog.Models(requestContext(r), provider, refresh)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}
