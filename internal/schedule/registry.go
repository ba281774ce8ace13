package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a scheduled callback. Errors are logged, never fatal; the schedule
// keeps firing.
type Job func(ctx context.Context) error

// entry is one registered schedule.
type entry struct {
	name string
	job  Job

	// Exactly one of interval / cron is set.
	interval time.Duration
	cron     *parsedCron
	loc      *time.Location
}

// Registry owns a set of named schedules and runs each in its own goroutine
// between Start and Stop. Names are stable identifiers; registering the same
// name twice fails fast.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []entry
	byName  map[string]bool

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRegistry creates an empty schedule registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With(slog.String("component", "scheduler")),
		byName: make(map[string]bool),
	}
}

// Name identifies the worker for the supervisor.
func (r *Registry) Name() string { return "scheduler" }

// AddInterval registers a job fired every d, first after one full period.
func (r *Registry) AddInterval(name string, d time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("schedule: %s: interval must be positive", name)
	}
	return r.add(entry{name: name, job: job, interval: d})
}

// AddCron registers a job fired on a 5-field cron expression evaluated in
// the given location.
func (r *Registry) AddCron(name, expr string, loc *time.Location, job Job) error {
	cron, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("schedule: %s: %w", name, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return r.add(entry{name: name, job: job, cron: &cron, loc: loc})
}

func (r *Registry) add(e entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("schedule: %s: registry already started", e.name)
	}
	if r.byName[e.name] {
		return fmt.Errorf("schedule: duplicate registration %q", e.name)
	}
	r.byName[e.name] = true
	r.entries = append(r.entries, e)
	return nil
}

// Start launches one goroutine per registered schedule.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			r.runEntry(runCtx, e)
		}(e)
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()

	r.logger.Info("scheduler started", slog.Int("schedules", len(r.entries)))
	return nil
}

// Stop cancels all schedules and waits for in-flight jobs, bounded by ctx.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		r.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

// runEntry fires one schedule until cancelled.
func (r *Registry) runEntry(ctx context.Context, e entry) {
	for {
		var wait time.Duration
		if e.cron != nil {
			next, err := nextCronTime(*e.cron, time.Now().In(e.loc))
			if err != nil {
				r.logger.Error("schedule has no next run, abandoning",
					slog.String("schedule", e.name),
					slog.String("error", err.Error()))
				return
			}
			wait = time.Until(next)
		} else {
			wait = e.interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := e.job(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("scheduled job failed",
				slog.String("schedule", e.name),
				slog.String("error", err.Error()))
		} else {
			r.logger.Debug("scheduled job finished",
				slog.String("schedule", e.name),
				slog.Duration("took", time.Since(start)))
		}
	}
}
