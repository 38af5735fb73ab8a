package staging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// Executor renders jobs and records the outcome through the Service.
// Both the in-process timer dispatcher and the queue worker drive it.
type Executor struct {
	service  *Service
	renderer models.Renderer
	timeout  time.Duration
}

// NewExecutor creates an Executor. A zero timeout leaves renders unbounded.
func NewExecutor(svc *Service, renderer models.Renderer, timeout time.Duration) *Executor {
	return &Executor{service: svc, renderer: renderer, timeout: timeout}
}

// Start moves the job to processing. It reports false when the job is no
// longer queued, in which case nothing else should run for it.
func (e *Executor) Start(ctx context.Context, id uuid.UUID) (bool, error) {
	return e.service.MarkProcessing(ctx, id)
}

// Finish renders a processing job and completes or fails it. A job that has
// left processing (for example after cancellation) is left untouched.
func (e *Executor) Finish(ctx context.Context, id uuid.UUID) error {
	job, err := e.service.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("loading job for render: %w", err)
	}
	if job.Status != models.JobStatusProcessing {
		slog.Debug("skipping render", "job_id", id, "status", job.Status)
		return nil
	}

	renderCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ref, err := e.renderer.Render(renderCtx, *job)
	if err != nil {
		slog.Warn("render failed", "error", err, "job_id", id, "backend", e.renderer.Name())
		if _, ferr := e.service.Fail(ctx, id, render.FailureReason(err)); ferr != nil {
			return fmt.Errorf("failing job: %w", ferr)
		}
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	if _, err := e.service.Complete(ctx, id, ref); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return nil
}

// Run starts and finishes a job back to back. Finish runs even when Start
// reports false so a redelivered task can render a job left in processing.
func (e *Executor) Run(ctx context.Context, id uuid.UUID) error {
	if _, err := e.Start(ctx, id); err != nil {
		return err
	}
	return e.Finish(ctx, id)
}
