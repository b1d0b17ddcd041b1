package council

import (
	"context"
	"fmt"
	"time"
)

// Runner advances a Job through the async state machine: pending ->
// running -> (completed|failed) -> (webhook_sent|webhook_failed).
type Runner struct {
	store    *JobStore
	engine   *Engine
	webhooks *WebhookDispatcher
	logger   Logger
}

// NewRunner wires a JobStore, Engine, and WebhookDispatcher together.
func NewRunner(store *JobStore, engine *Engine, webhooks *WebhookDispatcher, logger Logger) *Runner {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Runner{store: store, engine: engine, webhooks: webhooks, logger: logger}
}

// Run executes job's deliberation and delivers the resulting webhook. It
// is meant to be launched as a background goroutine per job; ctx should
// be independent of any single HTTP request's lifetime so that client
// disconnect from the accepting request does not abort the job. A panic
// escaping the engine is treated the same as the engine exception case
// in the state machine: the job advances to failed and a best-effort
// failure webhook is sent.
func (r *Runner) Run(ctx context.Context, jobID string) {
	job, ok := r.store.Get(jobID)
	if !ok {
		return
	}

	startedAt := time.Now().UTC()
	r.store.Update(jobID, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &startedAt
	})

	result, err := r.runEngine(ctx, job)
	if err != nil {
		r.Fail(ctx, jobID, err)
		return
	}

	r.finish(ctx, jobID, job, startedAt, result)
}

// runEngine invokes the engine, converting any panic into an error so Run
// can route it through the same failed/webhook_failed path as an
// ordinary engine exception.
func (r *Runner) runEngine(ctx context.Context, job Job) (result *DeliberationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("council: engine panic: %v", rec)
		}
	}()

	result = r.engine.Run(ctx, DeliberationRequest{
		Query:         job.Query,
		CouncilModels: job.CouncilModels,
		Chairman:      job.Chairman,
		FinalOnly:     job.FinalOnly,
	})
	return result, nil
}

// finish records the completed result and delivers the success webhook,
// advancing the job to its final webhook_sent/webhook_failed status.
func (r *Runner) finish(ctx context.Context, jobID string, job Job, startedAt time.Time, result *DeliberationResult) {
	completedAt := time.Now().UTC()
	r.store.Update(jobID, func(j *Job) {
		j.Status = JobCompleted
		j.CompletedAt = &completedAt
		j.Result = result
	})

	if len(result.Stage1) == 0 {
		r.logger.Warn(ctx, "council: job completed with no stage-1 responses",
			F("job_id", jobID), F("error", NewJobError(jobID, "stage1", ErrAllModelsFailed).Error()))
	}

	payload := CompletedPayload{
		Event:    "council.completed",
		JobID:    jobID,
		Query:    job.Query,
		Result:   result,
		Metadata: job.Metadata,
		Timing: WebhookTiming{
			CreatedAt:   job.CreatedAt,
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
		},
	}

	delivered := r.webhooks.Send(ctx, job.WebhookURL, payload, job.WebhookSecret)

	r.store.Update(jobID, func(j *Job) {
		if delivered {
			j.Status = JobWebhookSent
		} else {
			j.Status = JobWebhookFailed
			j.Error = ErrWebhookDelivery.Error()
		}
	})
}

// Fail is invoked when an unexpected error (rather than the engine's own
// degenerate-input handling) prevents Run from producing a result. It
// advances the job to failed and best-effort delivers a failure webhook;
// the webhook's own outcome does not further advance state.
func (r *Runner) Fail(ctx context.Context, jobID string, cause error) {
	job, ok := r.store.Get(jobID)
	if !ok {
		return
	}

	completedAt := time.Now().UTC()
	errText := cause.Error()
	r.store.Update(jobID, func(j *Job) {
		j.Status = JobFailed
		j.CompletedAt = &completedAt
		j.Error = errText
	})

	payload := FailedPayload{
		Event:    "council.failed",
		JobID:    jobID,
		Query:    job.Query,
		Error:    errText,
		Metadata: job.Metadata,
	}
	r.webhooks.Send(ctx, job.WebhookURL, payload, job.WebhookSecret)
}
