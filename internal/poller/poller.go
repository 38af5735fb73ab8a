// Package poller watches staging jobs until they reach a terminal status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/pkg/models"
)

const (
	DefaultJobInterval  = 2 * time.Second
	DefaultListInterval = 3 * time.Second
)

var ErrWatchTimeout = errors.New("watch exceeded its maximum duration")

// JobSource is where job snapshots come from: the staging service in
// process, or the HTTP client remotely.
type JobSource interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
}

// Poller repeatedly fetches job snapshots. It holds no per-watch state and
// may start any number of concurrent watches.
type Poller struct {
	source JobSource
	clock  clockwork.Clock
}

func New(source JobSource, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{source: source, clock: clock}
}

type watchConfig struct {
	interval    time.Duration
	maxDuration time.Duration
	onError     func(error)
}

type Option func(*watchConfig)

// WithInterval overrides the delay between fetches.
func WithInterval(d time.Duration) Option {
	return func(c *watchConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxDuration stops the watch with ErrWatchTimeout once d has elapsed
// without every job becoming terminal. Zero disables the cutoff.
func WithMaxDuration(d time.Duration) Option {
	return func(c *watchConfig) { c.maxDuration = d }
}

// WithErrorHandler receives fetch errors that do not end the watch.
func WithErrorHandler(fn func(error)) Option {
	return func(c *watchConfig) { c.onError = fn }
}

// Watch is a running poll loop.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop ends polling. No fetch starts after Stop returns.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Wait blocks until polling ends and returns why it ended: nil when every
// job became terminal or Stop was called.
func (w *Watch) Wait() error {
	<-w.done
	return w.err
}

// Done is closed when polling ends.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// WatchJob fetches the job now and then every interval, passing each
// snapshot to onUpdate, until the job is terminal.
func (p *Poller) WatchJob(ctx context.Context, id uuid.UUID, onUpdate func(*models.Job), opts ...Option) *Watch {
	cfg := p.config(DefaultJobInterval, opts)
	var tr tracker
	return p.start(ctx, cfg, func(ctx context.Context) (bool, error) {
		job, err := p.source.GetJob(ctx, id)
		if err != nil {
			return false, err
		}
		if tr.observe(job) && onUpdate != nil {
			onUpdate(job)
		}
		return tr.status(job.ID).Terminal(), nil
	})
}

// WatchList fetches jobs with the given status (all when empty) now and then
// every interval, passing each listing to onUpdate, until no listed job is
// queued or processing. An empty listing ends the watch at once.
func (p *Poller) WatchList(ctx context.Context, status models.JobStatus, onUpdate func([]*models.Job), opts ...Option) *Watch {
	cfg := p.config(DefaultListInterval, opts)
	var tr tracker
	return p.start(ctx, cfg, func(ctx context.Context) (bool, error) {
		jobs, err := p.source.ListJobs(ctx, status)
		if err != nil {
			return false, err
		}
		fresh := make([]*models.Job, 0, len(jobs))
		for _, j := range jobs {
			tr.observe(j)
			if tr.status(j.ID) == j.Status {
				fresh = append(fresh, j)
			}
		}
		if onUpdate != nil {
			onUpdate(fresh)
		}

		for _, j := range jobs {
			if !tr.status(j.ID).Terminal() {
				return false, nil
			}
		}
		return true, nil
	})
}

func (p *Poller) config(interval time.Duration, opts []Option) watchConfig {
	cfg := watchConfig{interval: interval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.onError == nil {
		cfg.onError = func(err error) {
			slog.Warn("poll fetch failed", "error", err)
		}
	}
	return cfg
}

// start runs fetch immediately and then on every tick until it reports that
// everything is terminal, fails permanently, or the watch is stopped.
func (p *Poller) start(parent context.Context, cfg watchConfig, fetch func(context.Context) (bool, error)) *Watch {
	ctx, cancel := context.WithCancel(parent)
	w := &Watch{cancel: cancel, done: make(chan struct{})}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			w.err = err
			cancel()
			close(w.done)
		})
	}

	go func() {
		var deadline <-chan time.Time
		if cfg.maxDuration > 0 {
			deadline = p.clock.After(cfg.maxDuration)
		}
		ticker := p.clock.NewTicker(cfg.interval)
		defer ticker.Stop()

		for {
			done, err := fetch(ctx)
			switch {
			case ctx.Err() != nil:
				finish(nil)
				return
			case errors.Is(err, staging.ErrJobNotFound):
				finish(err)
				return
			case err != nil:
				cfg.onError(fmt.Errorf("fetching jobs: %w", err))
			case done:
				finish(nil)
				return
			}

			select {
			case <-ctx.Done():
				finish(nil)
				return
			case <-deadline:
				finish(ErrWatchTimeout)
				return
			case <-ticker.Chan():
			}
		}
	}()

	return w
}

// tracker remembers the furthest status observed per job so a stale
// snapshot can never move a job backwards.
type tracker struct {
	seen map[uuid.UUID]models.JobStatus
}

// observe records job and reports whether it is at least as advanced as
// anything seen before.
func (t *tracker) observe(job *models.Job) bool {
	if t.seen == nil {
		t.seen = make(map[uuid.UUID]models.JobStatus)
	}
	prev, ok := t.seen[job.ID]
	if ok && job.Status.Rank() < prev.Rank() {
		return false
	}
	if ok && prev.Terminal() && job.Status != prev {
		return false
	}
	t.seen[job.ID] = job.Status
	return true
}

func (t *tracker) status(id uuid.UUID) models.JobStatus {
	return t.seen[id]
}
