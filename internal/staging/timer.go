package staging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// TimerDispatcher advances jobs in process: ProcessingDelay after dispatch
// the job becomes processing, and CompletionDelay after dispatch it is
// rendered and completed. The completion timer is only armed once the
// processing step succeeded, so the two steps can never run out of order.
type TimerDispatcher struct {
	executor        *Executor
	clock           clockwork.Clock
	processingDelay time.Duration
	completionDelay time.Duration

	mu      sync.Mutex
	timers  map[uuid.UUID]clockwork.Timer
	wg      sync.WaitGroup
	stopped bool
}

func NewTimerDispatcher(exec *Executor, clock clockwork.Clock, processingDelay, completionDelay time.Duration) *TimerDispatcher {
	if completionDelay < processingDelay {
		completionDelay = processingDelay
	}
	return &TimerDispatcher{
		executor:        exec,
		clock:           clock,
		processingDelay: processingDelay,
		completionDelay: completionDelay,
		timers:          make(map[uuid.UUID]clockwork.Timer),
	}
}

func (d *TimerDispatcher) Dispatch(_ context.Context, job *models.Job) error {
	id := job.ID
	d.schedule(id, d.processingDelay, func() {
		ctx := context.Background()
		ok, err := d.executor.Start(ctx, id)
		if err != nil {
			slog.Error("starting job", "error", err, "job_id", id)
			return
		}
		if !ok {
			return
		}
		d.schedule(id, d.completionDelay-d.processingDelay, func() {
			if err := d.executor.Finish(ctx, id); err != nil {
				slog.Error("finishing job", "error", err, "job_id", id)
			}
		})
	})
	return nil
}

func (d *TimerDispatcher) schedule(id uuid.UUID, after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.wg.Add(1)
	d.timers[id] = d.clock.AfterFunc(after, func() {
		defer d.wg.Done()
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in staging timer", "error", r, "job_id", id)
			}
		}()
		fn()
	})
}

// Stop cancels every pending timer and waits for running steps to return.
// Jobs whose timers were cancelled stay in their current status.
func (d *TimerDispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Pending reports how many timers are armed.
func (d *TimerDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
