// Package staging owns the lifecycle of virtual staging jobs: creation with a
// credit charge, snapshots, listing, cancellation and the guarded
// advancements used by workers.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/cache"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/kiranshivaraju/stager/pkg/pricing"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrRenderFailed means the render itself failed and the job was already
	// moved to failed; retrying cannot help.
	ErrRenderFailed = errors.New("render failed")
)

// snapshotTTL bounds how long terminal job snapshots stay in the cache.
const snapshotTTL = 30 * time.Minute

// Dispatcher hands a freshly created job to whatever advances it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// Service is the job store state machine. Every status change goes through
// store.TransitionJob, so a late advancement after cancellation is a no-op.
type Service struct {
	store      store.Store
	ledger     *credits.Ledger
	cache      cache.Cache
	dispatcher Dispatcher
	clock      clockwork.Clock
}

type Option func(*Service)

// WithCache mirrors terminal job snapshots into ca.
func WithCache(ca cache.Cache) Option {
	return func(s *Service) { s.cache = ca }
}

// WithClock overrides the clock used to stamp new jobs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates a Service. A dispatcher must be attached with
// SetDispatcher before jobs are created.
func NewService(st store.Store, ledger *credits.Ledger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ledger: ledger,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher attaches d. Dispatchers usually need the service to advance
// jobs, so they are built after it.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// CreateJob charges the job's cost, persists it as queued and dispatches it.
// It returns credits.ErrInsufficientCredits, leaving nothing behind, when the
// balance cannot cover the cost.
func (s *Service) CreateJob(ctx context.Context, req models.JobRequest) (*models.Job, error) {
	if s.dispatcher == nil {
		return nil, fmt.Errorf("staging service has no dispatcher")
	}

	cost := pricing.EstimateCost(req.Style, req.Resolution, len(req.Items))
	if _, err := s.ledger.Charge(ctx, cost); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	job := &models.Job{
		ID:            uuid.New(),
		InputImageRef: req.InputImageRef,
		RoomType:      req.RoomType,
		Style:         req.Style,
		Items:         append([]string{}, req.Items...),
		Resolution:    req.Resolution,
		Status:        models.JobStatusQueued,
		Cost:          cost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		s.refund(ctx, job.ID, cost)
		return nil, fmt.Errorf("creating job: %w", err)
	}

	slog.Info("job created",
		"job_id", job.ID,
		"room_type", job.RoomType,
		"style", job.Style,
		"resolution", job.Resolution,
		"items", len(job.Items),
		"cost", cost,
	)

	if err := s.dispatcher.Dispatch(ctx, job.Clone()); err != nil {
		slog.Error("dispatching job", "error", err, "job_id", job.ID)
		if _, ferr := s.Fail(ctx, job.ID, models.FailureRenderUnavailable); ferr != nil {
			slog.Error("failing undispatched job", "error", ferr, "job_id", job.ID)
		}
		return s.GetJob(ctx, job.ID)
	}

	return job, nil
}

// GetJob returns the current snapshot of a job. It never waits on a worker.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if s.cache != nil {
		job, found, err := s.cache.GetJob(ctx, id)
		if err != nil {
			slog.Warn("reading job snapshot from cache", "error", err, "job_id", id)
		}
		if found {
			return job, nil
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}

	if job.Status.Terminal() {
		s.mirror(ctx, job)
	}
	return job, nil
}

// ListJobs returns jobs newest first. An empty status matches every job.
func (s *Service) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// CancelJob moves a queued or processing job to canceled and refunds its
// cost. Cancelling a job that already ended changes nothing and is not an
// error; the current snapshot is returned either way.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.TransitionJob(ctx, id, models.JobStatusCanceled)
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		return s.GetJob(ctx, id)
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, fmt.Errorf("canceling job: %w", err)
	}

	slog.Info("job canceled", "job_id", id)
	s.refund(ctx, id, job.Cost)
	s.mirror(ctx, job)
	return job, nil
}

// Resume hands every queued job back to the dispatcher, typically once at
// startup after jobs outlived the process that dispatched them. When
// failProcessing is set, jobs left processing are failed with
// render_unavailable and refunded, since the render that owned them is gone.
// In queue mode processing jobs still belong to a worker and must be left alone.
func (s *Service) Resume(ctx context.Context, failProcessing bool) (resumed, failed int, err error) {
	if s.dispatcher == nil {
		return 0, 0, fmt.Errorf("staging service has no dispatcher")
	}

	if failProcessing {
		stale, err := s.store.ListJobs(ctx, store.JobFilter{Status: models.JobStatusProcessing})
		if err != nil {
			return 0, 0, fmt.Errorf("listing processing jobs: %w", err)
		}
		for _, job := range stale {
			ok, err := s.Fail(ctx, job.ID, models.FailureRenderUnavailable)
			if err != nil {
				return resumed, failed, err
			}
			if ok {
				failed++
			}
		}
	}

	queued, err := s.store.ListJobs(ctx, store.JobFilter{Status: models.JobStatusQueued})
	if err != nil {
		return resumed, failed, fmt.Errorf("listing queued jobs: %w", err)
	}
	// Oldest first, so resumed jobs keep their submission order.
	for i := len(queued) - 1; i >= 0; i-- {
		job := queued[i]
		if err := s.dispatcher.Dispatch(ctx, job.Clone()); err != nil {
			slog.Error("redispatching job", "error", err, "job_id", job.ID)
			if ok, ferr := s.Fail(ctx, job.ID, models.FailureRenderUnavailable); ferr == nil && ok {
				failed++
			}
			continue
		}
		resumed++
	}

	if resumed > 0 || failed > 0 {
		slog.Info("resumed unfinished jobs", "resumed", resumed, "failed", failed)
	}
	return resumed, failed, nil
}

// MarkProcessing moves a queued job to processing. It reports false when the
// job has already left queued.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := s.advance(ctx, id, models.JobStatusProcessing)
	if job == nil || err != nil {
		return false, err
	}
	slog.Info("job processing", "job_id", id)
	return true, nil
}

// Complete moves a processing job to done with its result reference.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, resultRef string) (bool, error) {
	if resultRef == "" {
		return false, fmt.Errorf("completing job %s: empty result reference", id)
	}
	job, err := s.advance(ctx, id, models.JobStatusDone, store.WithResultImageRef(resultRef))
	if job == nil || err != nil {
		return false, err
	}
	slog.Info("job done", "job_id", id, "result_image_ref", resultRef)
	s.mirror(ctx, job)
	return true, nil
}

// Fail moves a queued or processing job to failed with a reason code and
// refunds its cost.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	job, err := s.advance(ctx, id, models.JobStatusFailed, store.WithFailureReason(reason))
	if job == nil || err != nil {
		return false, err
	}
	slog.Warn("job failed", "job_id", id, "reason", reason)
	s.refund(ctx, id, job.Cost)
	s.mirror(ctx, job)
	return true, nil
}

// advance applies a transition, folding ErrInvalidTransition into a nil job.
func (s *Service) advance(ctx context.Context, id uuid.UUID, to models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	job, err := s.store.TransitionJob(ctx, id, to, opts...)
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		slog.Debug("ignoring stale transition", "job_id", id, "to", to)
		return nil, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, fmt.Errorf("transitioning job to %s: %w", to, err)
	}
	return job, nil
}

func (s *Service) refund(ctx context.Context, id uuid.UUID, amount int) {
	if amount <= 0 {
		return
	}
	if _, err := s.ledger.Refund(ctx, amount); err != nil {
		slog.Error("refunding job cost", "error", err, "job_id", id, "amount", amount)
	}
}

// mirror caches a terminal snapshot. Only terminal jobs are cached, so a
// cached read can never show an older status than the store.
func (s *Service) mirror(ctx context.Context, job *models.Job) {
	if s.cache == nil || !job.Status.Terminal() {
		return
	}
	if err := s.cache.SetJob(ctx, job, snapshotTTL); err != nil {
		slog.Warn("caching job snapshot", "error", err, "job_id", job.ID)
	}
}
