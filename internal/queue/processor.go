package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/staging"
)

// Runner renders a single job end to end.
type Runner interface {
	Run(ctx context.Context, id uuid.UUID) error
}

// Failer records a job as failed.
type Failer interface {
	Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner Runner
	failer Failer
}

// NewProcessor constructs a worker processor. failer may be nil, in which
// case tasks that will not run again leave their jobs untouched.
func NewProcessor(runner Runner, failer Failer) *Processor {
	return &Processor{runner: runner, failer: failer}
}

// Handler registers the render task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(RenderJobTask, p.HandleRender)
	return mux
}

// HandleRender runs one render task. Errors that retrying cannot fix are
// wrapped with asynq.SkipRetry.
func (p *Processor) HandleRender(ctx context.Context, task *asynq.Task) error {
	var payload RenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == uuid.Nil {
		return fmt.Errorf("payload has no job id: %w", asynq.SkipRetry)
	}

	err := p.runner.Run(ctx, payload.JobID)
	switch {
	case err == nil:
		slog.Info("render task done", "job_id", payload.JobID)
		return nil
	case errors.Is(err, staging.ErrJobNotFound), errors.Is(err, staging.ErrRenderFailed):
		slog.Warn("render task failed", "error", err, "job_id", payload.JobID)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		slog.Error("render task errored", "error", err, "job_id", payload.JobID)
		return err
	}
}

// HandleError is registered as the asynq ErrorHandler. When a render task
// will not run again, because its retries are spent or it skipped retries,
// the job is failed so it cannot stay queued or processing forever.
func (p *Processor) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !finalAttempt(retried, maxRetry, ok, err) {
		return
	}
	p.failTask(context.WithoutCancel(ctx), task, err)
}

// finalAttempt reports whether asynq is done with a task that returned err.
func finalAttempt(retried, maxRetry int, known bool, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	return known && retried >= maxRetry
}

func (p *Processor) failTask(ctx context.Context, task *asynq.Task, cause error) {
	if p.failer == nil || task.Type() != RenderJobTask {
		return
	}
	var payload RenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.JobID == uuid.Nil {
		return
	}

	reason := render.FailureReason(cause)
	failed, err := p.failer.Fail(ctx, payload.JobID, reason)
	switch {
	case errors.Is(err, staging.ErrJobNotFound):
		slog.Debug("render task for unknown job", "job_id", payload.JobID)
	case err != nil:
		slog.Error("failing job after last render attempt", "error", err, "job_id", payload.JobID)
	case failed:
		slog.Warn("render attempts exhausted", "job_id", payload.JobID, "reason", reason, "cause", cause)
	}
}
