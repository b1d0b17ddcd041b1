package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/council-run/council"
)

func TestHandleCouncilAsyncRejectsMissingWebhookURL(t *testing.T) {
	server := newTestServer("")

	body, _ := json.Marshal(councilAsyncRequest{councilRequest: councilRequest{Query: "q"}})
	req := httptest.NewRequest(http.MethodPost, "/api/council/async", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleCouncilAsyncAcceptsAndCreatesJob(t *testing.T) {
	webhookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookServer.Close()

	store := council.NewJobStore()
	server := NewServer(Deps{
		Engine:   newTestEngine(),
		JobStore: store,
		Webhooks: council.NewWebhookDispatcher(5*time.Second, 1, nil),
		Version:  "test",
	})

	body, _ := json.Marshal(councilAsyncRequest{
		councilRequest: councilRequest{Query: "q", FinalOnly: true},
		WebhookURL:     webhookServer.URL,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/council/async", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job_id in the response")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := store.Get(jobID)
		if ok && (job.Status == council.JobWebhookSent || job.Status == council.JobWebhookFailed) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status in time")
}

func TestHandleListJobsRejectsInvalidStatus(t *testing.T) {
	server := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/api/council/jobs?status=not-a-status", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleListJobsReturnsCreatedJobs(t *testing.T) {
	store := council.NewJobStore()
	store.Create(council.CreateJobInput{Query: "q", WebhookURL: "https://example.com"})

	server := NewServer(Deps{
		Engine:   newTestEngine(),
		JobStore: store,
		Webhooks: council.NewWebhookDispatcher(5*time.Second, 1, nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/council/jobs", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp jobListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(resp.Jobs))
	}
}

func TestHandleGetJobNotFound(t *testing.T) {
	server := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/api/council/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleGetJobOmitsResultByDefault(t *testing.T) {
	store := council.NewJobStore()
	job := store.Create(council.CreateJobInput{Query: "q", WebhookURL: "https://example.com"})
	store.Update(job.ID, func(j *council.Job) {
		j.Status = council.JobCompleted
		j.Result = &council.DeliberationResult{}
	})

	server := NewServer(Deps{
		Engine:   newTestEngine(),
		JobStore: store,
		Webhooks: council.NewWebhookDispatcher(5*time.Second, 1, nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/council/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp jobDetailResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Result != nil {
		t.Error("expected result to be omitted without include_result=true")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/council/jobs/"+job.ID+"?include_result=true", nil)
	w2 := httptest.NewRecorder()
	server.ServeHTTP(w2, req2)

	var resp2 jobDetailResponse
	json.Unmarshal(w2.Body.Bytes(), &resp2)
	if resp2.Result == nil {
		t.Error("expected result to be included with include_result=true")
	}
}

func TestHandleCleanupJobsRemovesOldJobs(t *testing.T) {
	store := council.NewJobStore()
	job := store.Create(council.CreateJobInput{Query: "q", WebhookURL: "https://example.com"})
	store.Update(job.ID, func(j *council.Job) {
		j.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	})

	server := NewServer(Deps{
		Engine:   newTestEngine(),
		JobStore: store,
		Webhooks: council.NewWebhookDispatcher(5*time.Second, 1, nil),
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/council/jobs/cleanup?max_age_hours=24", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	removed, _ := resp["removed"].(float64)
	if removed != 1 {
		t.Errorf("removed = %v, want 1", resp["removed"])
	}
}
