package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/council-run/council"
)

// councilAsyncRequest adds the webhook fields to the shared council request body.
type councilAsyncRequest struct {
	councilRequest
	WebhookURL    string         `json:"webhook_url"`
	WebhookSecret string         `json:"webhook_secret"`
	Metadata      map[string]any `json:"metadata"`
}

// handleCouncilAsync implements POST /api/council/async: create a job,
// launch the deliberation in the background, and return immediately with
// a poll URL. The job's own context is independent of this request's
// context, so client disconnect never aborts the job.
func (s *Server) handleCouncilAsync(w http.ResponseWriter, r *http.Request) {
	var req councilAsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.WebhookURL == "" {
		writeError(w, http.StatusBadRequest, "webhook_url is required")
		return
	}

	models := resolveAliases(req.Models)
	chairman := council.ResolveModelAlias(req.Chairman)

	job := s.deps.JobStore.Create(council.CreateJobInput{
		Query:         req.Query,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		CouncilModels: models,
		Chairman:      chairman,
		FinalOnly:     req.FinalOnly,
		Metadata:      req.Metadata,
	})

	runner := council.NewRunner(s.deps.JobStore, s.deps.Engine, s.deps.Webhooks, s.deps.Logger)
	go runner.Run(context.Background(), job.ID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"job_id":      job.ID,
		"poll_url":    "/api/council/jobs/" + job.ID,
		"webhook_url": job.WebhookURL,
	})
}

// jobListResponse is the GET /api/council/jobs response shape.
type jobListResponse struct {
	Jobs []council.JobSummary `json:"jobs"`
}

// handleListJobs implements GET /api/council/jobs[?limit=&status=].
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	status := council.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !isValidStatus(status) {
		writeError(w, http.StatusBadRequest, council.ErrInvalidStatusFilter.Error())
		return
	}

	writeJSON(w, http.StatusOK, jobListResponse{Jobs: s.deps.JobStore.List(status, limit)})
}

func isValidStatus(s council.JobStatus) bool {
	switch s {
	case council.JobPending, council.JobRunning, council.JobCompleted,
		council.JobFailed, council.JobWebhookSent, council.JobWebhookFailed:
		return true
	default:
		return false
	}
}

// jobDetailResponse is the GET /api/council/jobs/{id} response shape.
// Result is omitted unless include_result=true is passed.
type jobDetailResponse struct {
	ID          string                       `json:"job_id"`
	Status      council.JobStatus            `json:"status"`
	Query       string                       `json:"query"`
	WebhookURL  string                       `json:"webhook_url"`
	CreatedAt   time.Time                    `json:"created_at"`
	StartedAt   *time.Time                   `json:"started_at,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Error       string                       `json:"error,omitempty"`
	Result      *council.DeliberationResult  `json:"result,omitempty"`
}

// handleGetJob implements GET /api/council/jobs/{id}[?include_result=bool].
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.deps.JobStore.Get(id)
	if !ok {
		jobErr := council.NewJobError(id, "lookup", council.ErrJobNotFound)
		if council.IsNotFound(jobErr) {
			writeError(w, http.StatusNotFound, council.ErrJobNotFound.Error())
		} else {
			writeError(w, http.StatusInternalServerError, jobErr.Error())
		}
		return
	}

	includeResult, _ := strconv.ParseBool(r.URL.Query().Get("include_result"))

	resp := jobDetailResponse{
		ID:          job.ID,
		Status:      job.Status,
		Query:       job.Query,
		WebhookURL:  job.WebhookURL,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	}
	if includeResult {
		resp.Result = job.Result
	}

	writeJSON(w, http.StatusOK, resp)
}

const defaultCleanupMaxAgeHours = 24

// handleCleanupJobs implements DELETE /api/council/jobs/cleanup[?max_age_hours=].
func (s *Server) handleCleanupJobs(w http.ResponseWriter, r *http.Request) {
	maxAgeHours := defaultCleanupMaxAgeHours
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			maxAgeHours = parsed
		}
	}

	removed := s.deps.JobStore.Cleanup(time.Duration(maxAgeHours) * time.Hour)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
