package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/council-run/council"
)

// councilRequest is the shared request body shape for both the sync and
// async council endpoints.
type councilRequest struct {
	Query           string         `json:"query"`
	FinalOnly       bool           `json:"final_only"`
	Models          []string       `json:"models"`
	Chairman        string         `json:"chairman"`
	IncludeDetails  bool           `json:"include_details"`
}

// resolveAliases converts every short alias in ids to its canonical model
// id; the chairman string is resolved separately. Resolution happens here,
// at the HTTP boundary, and nowhere else.
func resolveAliases(ids []string) []string {
	if ids == nil {
		return nil
	}
	resolved := make([]string, len(ids))
	for i, id := range ids {
		resolved[i] = council.ResolveModelAlias(id)
	}
	return resolved
}

// councilResponse is the POST /api/council response shape: a markdown
// rendering plus the raw stage data, metadata, timing, and a config echo.
type councilResponse struct {
	Markdown string                        `json:"markdown"`
	Stage1   []council.Stage1Entry         `json:"stage1"`
	Stage2   []council.Stage2Entry         `json:"stage2"`
	Stage3   council.Stage3Result          `json:"stage3"`
	Metadata council.DeliberationMetadata  `json:"metadata"`
	Timing   council.DeliberationTiming    `json:"timing"`
	Config   councilConfigEcho             `json:"config"`
}

type councilConfigEcho struct {
	FinalOnly bool     `json:"final_only"`
	Models    []string `json:"models"`
	Chairman  string   `json:"chairman"`
}

// handleCouncilSync implements POST /api/council: run a deliberation to
// completion and return the full result in the response body.
func (s *Server) handleCouncilSync(w http.ResponseWriter, r *http.Request) {
	var req councilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	models := resolveAliases(req.Models)
	chairman := council.ResolveModelAlias(req.Chairman)

	result := s.deps.Engine.Run(requestContext(r), council.DeliberationRequest{
		Query:         req.Query,
		CouncilModels: models,
		Chairman:      chairman,
		FinalOnly:     req.FinalOnly,
	})

	writeJSON(w, http.StatusOK, councilResponse{
		Markdown: renderMarkdown(result),
		Stage1:   result.Stage1,
		Stage2:   result.Stage2,
		Stage3:   result.Stage3,
		Metadata: result.Metadata,
		Timing:   result.Timing,
		Config: councilConfigEcho{
			FinalOnly: req.FinalOnly,
			Models:    models,
			Chairman:  chairman,
		},
	})
}

// renderMarkdown produces a human-readable summary of a deliberation
// result for clients that display it directly rather than building their
// own view from the structured fields.
func renderMarkdown(result *council.DeliberationResult) string {
	if len(result.Stage1) == 0 {
		return "# Council Result\n\n" + result.Stage3.Response
	}

	out := "## Final Answer\n\n" + result.Stage3.Response + "\n\n## Individual Responses\n\n"
	for _, entry := range result.Stage1 {
		out += "**" + entry.Model + "**\n\n" + entry.Response + "\n\n"
	}
	return out
}
