// Package supervisor owns the lifecycle of the pipeline workers: ordered
// startup, reverse-ordered shutdown with bounded waits, and a restart policy
// for workers that report unhealthy.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/priceverse/priceverse/internal/domain"
)

const (
	// stopTimeout is the hard cap on each worker's Stop. Past it the
	// worker is abandoned and logged as an unclean exit.
	stopTimeout = 8 * time.Second

	// maxRestarts / restartWindow bound the restart policy: a worker
	// restarted more than maxRestarts times inside the sliding window is
	// marked terminally failed and left down.
	maxRestarts   = 5
	restartWindow = 60 * time.Second

	// watchInterval is how often the watchdog samples worker health.
	watchInterval = 30 * time.Second
)

// worker is one supervised entry.
type worker struct {
	lc       domain.Lifecyclable
	stopPri  int
	regIndex int

	mu       sync.Mutex
	restarts []time.Time
	terminal bool
	started  bool
}

// Supervisor drives the workers in registration order on start and reverse
// order on stop.
type Supervisor struct {
	logger  *slog.Logger
	workers []*worker

	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// New creates an empty supervisor.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger: logger.With(slog.String("component", "supervisor")),
	}
}

// Add registers a worker. Registration order is start order; shutdown runs
// in reverse registration order unless a stop priority overrides it.
func (s *Supervisor) Add(lc domain.Lifecyclable) {
	s.AddWithStopPriority(lc, 0)
}

// AddWithStopPriority registers a worker with an explicit stop priority.
// Lower priorities stop earlier; ties stop in reverse registration order.
// The aggregation pipeline uses this to guarantee the mandated shutdown
// sequence: OHLCV roll-ups, then the stream aggregator, then collectors,
// then the fiat source, then transports.
func (s *Supervisor) AddWithStopPriority(lc domain.Lifecyclable, priority int) {
	s.workers = append(s.workers, &worker{
		lc:       lc,
		stopPri:  priority,
		regIndex: len(s.workers),
	})
}

// Start launches every worker in order. On failure, the already-started
// workers are stopped in reverse before the error is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	for i, w := range s.workers {
		s.logger.Info("starting worker", slog.String("worker", w.lc.Name()))
		if err := w.lc.Start(ctx); err != nil {
			s.logger.Error("worker failed to start",
				slog.String("worker", w.lc.Name()),
				slog.String("error", err.Error()))
			for j := i - 1; j >= 0; j-- {
				s.stopWorker(s.workers[j])
			}
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return fmt.Errorf("supervisor: start %s: %w", w.lc.Name(), err)
		}
		w.mu.Lock()
		w.started = true
		w.mu.Unlock()
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watchdog(watchCtx)

	s.logger.Info("all workers started", slog.Int("count", len(s.workers)))
	return nil
}

// Stop shuts every worker down in stop-priority order (reverse registration
// order on ties), bounding each Stop at the hard cap.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, w := range s.stopOrder() {
		s.stopWorker(w)
	}
	s.logger.Info("all workers stopped")
}

// stopOrder sorts workers by stop priority, breaking ties with reverse
// registration order.
func (s *Supervisor) stopOrder() []*worker {
	ordered := make([]*worker, len(s.workers))
	copy(ordered, s.workers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].stopPri != ordered[j].stopPri {
			return ordered[i].stopPri < ordered[j].stopPri
		}
		return ordered[i].regIndex > ordered[j].regIndex
	})
	return ordered
}

// stopWorker stops one worker under the hard cap.
func (s *Supervisor) stopWorker(w *worker) {
	w.mu.Lock()
	started := w.started
	w.started = false
	w.mu.Unlock()
	if !started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	err := w.lc.Stop(ctx)
	cancel()
	if err != nil {
		// The worker is abandoned; its goroutines may still be draining
		// but shutdown proceeds.
		s.logger.Error("worker did not stop cleanly, abandoning",
			slog.String("worker", w.lc.Name()),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("worker stopped", slog.String("worker", w.lc.Name()))
}

// watchdog samples worker health and restarts unhealthy workers under the
// restart policy.
func (s *Supervisor) watchdog(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range s.workers {
				reporter, ok := w.lc.(domain.HealthReporter)
				if !ok {
					continue
				}
				if reporter.HealthCheck().Status != domain.StatusUnhealthy {
					continue
				}
				if err := s.restart(ctx, w); err != nil {
					s.logger.Error("worker restart failed",
						slog.String("worker", w.lc.Name()),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// restart applies the sliding-window restart policy to one worker.
func (s *Supervisor) restart(ctx context.Context, w *worker) error {
	w.mu.Lock()
	if w.terminal {
		w.mu.Unlock()
		return nil
	}

	now := time.Now()
	recent := w.restarts[:0]
	for _, t := range w.restarts {
		if now.Sub(t) <= restartWindow {
			recent = append(recent, t)
		}
	}
	w.restarts = recent

	if len(w.restarts) >= maxRestarts {
		w.terminal = true
		w.mu.Unlock()
		s.logger.Error("worker exceeded restart budget, marking terminally failed",
			slog.String("worker", w.lc.Name()),
			slog.Int("restarts", maxRestarts),
			slog.Duration("window", restartWindow))
		return nil
	}
	w.restarts = append(w.restarts, now)
	w.mu.Unlock()

	s.logger.Warn("restarting unhealthy worker", slog.String("worker", w.lc.Name()))

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	err := w.lc.Stop(stopCtx)
	cancel()
	if err != nil {
		s.logger.Warn("unclean stop before restart",
			slog.String("worker", w.lc.Name()),
			slog.String("error", err.Error()))
	}

	return w.lc.Start(ctx)
}

// TerminallyFailed lists workers the restart policy has given up on.
func (s *Supervisor) TerminallyFailed() []string {
	var out []string
	for _, w := range s.workers {
		w.mu.Lock()
		if w.terminal {
			out = append(out, w.lc.Name())
		}
		w.mu.Unlock()
	}
	return out
}
