package council

import (
	"errors"
	"fmt"
)

// Sentinel errors. These are never returned to HTTP callers directly;
// httpapi maps them to status codes and the engine treats provider-level
// instances of these as "no response" rather than propagating them.
var (
	// ErrNoProvider indicates a canonical model id classified to no known provider.
	ErrNoProvider = errors.New("no provider classified for model id")

	// ErrAllModelsFailed indicates every council model failed stage 1.
	ErrAllModelsFailed = errors.New("all models failed to respond")

	// ErrWebhookDelivery indicates every webhook delivery attempt failed.
	ErrWebhookDelivery = errors.New("webhook delivery failed after all retries")

	// ErrJobNotFound indicates a job id unknown to the Job Store.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidStatusFilter indicates a job-list status filter that isn't
	// one of the known Status values.
	ErrInvalidStatusFilter = errors.New("invalid status filter")

	// ErrUnauthorized and ErrForbidden back the auth middleware's 401/403 split:
	// missing credential vs. present-but-wrong credential.
	ErrUnauthorized = errors.New("missing X-Council-Key header")
	ErrForbidden    = errors.New("X-Council-Key header does not match")
)

// ProviderError wraps a single adapter call's failure with enough context
// for logging and for the router's fallback decision. It is never returned
// past the Router boundary — callers above it only ever see a Model
// Response or its absence.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s/%s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// JobError associates a failure with the job and stage in which it occurred,
// for structured logging in the Async Runner.
type JobError struct {
	JobID string
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewProviderError constructs a ProviderError.
func NewProviderError(provider, model string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, StatusCode: statusCode, Err: err}
}

// NewJobError constructs a JobError.
func NewJobError(jobID, stage string, err error) *JobError {
	return &JobError{JobID: jobID, Stage: stage, Err: err}
}

// IsNotFound reports whether err is (or wraps) ErrJobNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
