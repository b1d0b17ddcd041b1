package council

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is a value in the Job state machine, monotonic through
// pending -> running -> (completed|failed) -> (webhook_sent|webhook_failed).
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobRunning        JobStatus = "running"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobWebhookSent    JobStatus = "webhook_sent"
	JobWebhookFailed  JobStatus = "webhook_failed"
)

// Job is an async deliberation record. CouncilModels, Chairman, FinalOnly,
// and Metadata are immutable once set at creation; Status, StartedAt,
// CompletedAt, Result, and Error advance only forward through the job's
// lifetime.
type Job struct {
	ID             string
	Query          string
	WebhookURL     string
	WebhookSecret  string
	CouncilModels  []string
	Chairman       string
	FinalOnly      bool
	Metadata       map[string]any

	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result *DeliberationResult
	Error  string
}

// JobSummary trims Query to 100 characters for listing; it never mutates
// the stored Job.
type JobSummary struct {
	ID          string
	Status      JobStatus
	Query       string
	WebhookURL  string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

const jobQuerySummaryLen = 100

// JobStore is an in-process, mutex-guarded keyed collection of Jobs. It is
// the only mutable shared state in the system: mutated by the Async
// Runner and by HTTP handlers, read by the job-query endpoints.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// CreateJobInput is the set of caller-supplied fields for a new Job.
type CreateJobInput struct {
	Query         string
	WebhookURL    string
	WebhookSecret string
	CouncilModels []string
	Chairman      string
	FinalOnly     bool
	Metadata      map[string]any
}

// Create allocates a new pending Job and stores it.
func (s *JobStore) Create(input CreateJobInput) *Job {
	job := &Job{
		ID:            uuid.NewString(),
		Query:         input.Query,
		WebhookURL:    input.WebhookURL,
		WebhookSecret: input.WebhookSecret,
		CouncilModels: input.CouncilModels,
		Chairman:      input.Chairman,
		FinalOnly:     input.FinalOnly,
		Metadata:      input.Metadata,
		Status:        JobPending,
		CreatedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job
}

// Get fetches a Job by id. The returned Job is a snapshot copy; callers
// must go through Update to mutate stored state.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Update applies mutate to the stored Job under the store's lock, so
// readers never observe a partially-updated record.
func (s *JobStore) Update(id string, mutate func(job *Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	mutate(job)
	return true
}

// List returns job summaries sorted by created_at descending, optionally
// filtered by status, capped at limit entries (0 means no cap).
func (s *JobStore) List(status JobStatus, limit int) []JobSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		summaries = append(summaries, JobSummary{
			ID:          job.ID,
			Status:      job.Status,
			Query:       truncateQuery(job.Query),
			WebhookURL:  job.WebhookURL,
			CreatedAt:   job.CreatedAt,
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			Error:       job.Error,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// Cleanup removes jobs whose CreatedAt is older than maxAge, returning the
// count removed.
func (s *JobStore) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func truncateQuery(q string) string {
	if len(q) <= jobQuerySummaryLen {
		return q
	}
	return q[:jobQuerySummaryLen-3] + "..."
}
