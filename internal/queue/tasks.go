// Package queue moves staging jobs through Redis with asynq when the server
// and the render workers run as separate processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/kiranshivaraju/stager/pkg/models"
)

const (
	// RenderJobTask is scheduled each time a staging job is created.
	RenderJobTask = "staging:render"

	maxRetry    = 3
	taskTimeout = 10 * time.Minute
)

// RenderPayload is serialized into the task payload so the worker knows which
// job to render.
type RenderPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueRender enqueues a render task. The task ID is the job ID, so a job
// is never queued twice.
func EnqueueRender(ctx context.Context, client Enqueuer, payload RenderPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(RenderJobTask, data)
	_, err = client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.JobID.String()),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue render task: %w", err)
	}
	return nil
}

// Dispatcher hands jobs to the asynq queue.
type Dispatcher struct {
	client Enqueuer
}

func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	return EnqueueRender(ctx, d.client, RenderPayload{JobID: job.ID})
}

// RedisOpt parses a redis:// URL into asynq connection options.
func RedisOpt(redisURL string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opt, nil
}
