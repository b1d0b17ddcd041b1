// Package httpapi exposes the deliberation engine over HTTP: sync and
// async council endpoints, job query/cleanup endpoints, a stage-streamed
// SSE endpoint, and the informational/catalog endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/council-run/council"
)

// publicPaths never require the X-Council-Key header, even when auth is enabled.
var publicPaths = map[string]struct{}{
	"/":                 {},
	"/health":           {},
	"/docs":             {},
	"/openapi.json":     {},
}

// Deps bundles every component a handler needs. Handlers take Deps by
// value; it is cheap (pointers and small scalars only) and immutable
// after Server construction.
type Deps struct {
	Engine    *council.Engine
	JobStore  *council.JobStore
	Webhooks  *council.WebhookDispatcher
	Catalog   *council.Catalog
	Logger    council.Logger
	APIKey    string // empty disables auth
	Version   string
}

// Server wires Deps into a routed http.Handler.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
}

// NewServer registers every route in §6/§4.7 of the deliberation spec
// behind the API-key auth middleware.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = council.NoopLogger{}
	}

	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/info", s.handleInfo)
	s.mux.HandleFunc("GET /api/models", s.handleModels)

	s.mux.HandleFunc("POST /api/council", s.handleCouncilSync)
	s.mux.HandleFunc("POST /api/council/async", s.handleCouncilAsync)
	s.mux.HandleFunc("GET /api/council/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/council/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("DELETE /api/council/jobs/cleanup", s.handleCleanupJobs)

	s.mux.HandleFunc("POST /api/conversations/{id}/message/stream", s.handleStream)
}

// ServeHTTP implements http.Handler, applying the auth middleware ahead of routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.authMiddleware(s.mux).ServeHTTP(w, r)
}

// authMiddleware enforces X-Council-Key on every non-public path when
// deps.APIKey is set. Missing header -> 401; mismatched header -> 403.
// Comparison is constant-time to avoid a timing oracle on the key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, public := publicPaths[r.URL.Path]; public {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-Council-Key")
		if provided == "" {
			s.deps.Logger.Warn(r.Context(), "auth: missing key", council.F("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, council.ErrUnauthorized.Error())
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.deps.APIKey)) != 1 {
			s.deps.Logger.Warn(r.Context(), "auth: invalid key", council.F("path", r.URL.Path))
			writeError(w, http.StatusForbidden, council.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// requestContext is a small helper so handlers can bound upstream calls to
// the inbound request's lifetime for sync endpoints, while async paths
// deliberately use context.Background() so a client disconnect never
// aborts a running job.
func requestContext(r *http.Request) context.Context {
	return r.Context()
}
