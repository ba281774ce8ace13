package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/priceverse/priceverse/internal/aggregator"
	"github.com/priceverse/priceverse/internal/domain"
	"github.com/priceverse/priceverse/internal/venue"
)

// CollectorState is the view of a collector the monitor scans.
type CollectorState interface {
	Venue() string
	Stats() venue.Stats
}

// AggregatorState is the view of the stream aggregator the monitor scans.
type AggregatorState interface {
	Stats() aggregator.StreamStats
}

// Thresholds are the monitor's trip points.
type Thresholds struct {
	Disconnect        time.Duration // collector down longer than this fires a warning
	ConsecutiveErrors int64         // aggregator errors at or above this fire a critical
	ScanInterval      time.Duration // how often conditions are evaluated
}

// Monitor periodically scans the pipeline and drives the sink. Alerts are
// idempotent per ID: an active alert is notified once, and dropped from the
// active set (with an optional resolution) when its condition clears.
type Monitor struct {
	collectors  []CollectorState
	aggregator  AggregatorState
	fiat        domain.HealthReporter
	sink        Sink
	thresholds  Thresholds
	service     string
	environment string
	logger      *slog.Logger

	mu             sync.Mutex
	active         map[string]Alert
	disconnectedAt map[string]time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	runMu   sync.Mutex
}

// NewMonitor creates the alert monitor.
func NewMonitor(
	collectors []CollectorState,
	agg AggregatorState,
	fiat domain.HealthReporter,
	sink Sink,
	thresholds Thresholds,
	service, environment string,
	logger *slog.Logger,
) *Monitor {
	if thresholds.Disconnect <= 0 {
		thresholds.Disconnect = 300 * time.Second
	}
	if thresholds.ConsecutiveErrors <= 0 {
		thresholds.ConsecutiveErrors = 5
	}
	if thresholds.ScanInterval <= 0 {
		thresholds.ScanInterval = 30 * time.Second
	}
	return &Monitor{
		collectors:     collectors,
		aggregator:     agg,
		fiat:           fiat,
		sink:           sink,
		thresholds:     thresholds,
		service:        service,
		environment:    environment,
		logger:         logger.With(slog.String("component", "alert_monitor")),
		active:         make(map[string]Alert),
		disconnectedAt: make(map[string]time.Time),
	}
}

// Name identifies the worker for the supervisor.
func (m *Monitor) Name() string { return "alert_monitor" }

// Start launches the periodic scan.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.thresholds.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.Scan(runCtx)
			}
		}
	}()

	m.logger.Info("alert monitor started",
		slog.Duration("scan_interval", m.thresholds.ScanInterval))
	return nil
}

// Stop halts the scan loop.
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()

	select {
	case <-m.done:
		m.logger.Info("alert monitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert monitor: stop: %w", ctx.Err())
	}
}

// Scan evaluates every condition once.
func (m *Monitor) Scan(ctx context.Context) {
	now := time.Now()

	for _, col := range m.collectors {
		m.scanCollector(ctx, col, now)
	}

	if m.aggregator != nil {
		stats := m.aggregator.Stats()
		m.evaluate(ctx, "aggregator:errors",
			stats.ConsecutiveErrors >= m.thresholds.ConsecutiveErrors,
			Alert{
				Severity: SeverityCritical,
				Type:     "aggregator_errors",
				Message: fmt.Sprintf("stream aggregator has %d consecutive errors",
					stats.ConsecutiveErrors),
				Metadata: map[string]any{
					"consecutive_errors": stats.ConsecutiveErrors,
					"consumer_id":        stats.ConsumerID,
				},
			})
	}

	if m.fiat != nil {
		report := m.fiat.HealthCheck()
		m.evaluate(ctx, "cbr:unhealthy",
			report.Status == domain.StatusUnhealthy,
			Alert{
				Severity: SeverityWarning,
				Type:     "fiat_rate_unhealthy",
				Message:  "fiat rate source is unhealthy, derived pairs use fallback",
			})
	}
}

// scanCollector tracks how long a collector has been down and fires past the
// threshold.
func (m *Monitor) scanCollector(ctx context.Context, col CollectorState, now time.Time) {
	stats := col.Stats()
	name := col.Venue()

	m.mu.Lock()
	if stats.Connected {
		delete(m.disconnectedAt, name)
	} else if _, seen := m.disconnectedAt[name]; !seen {
		m.disconnectedAt[name] = now
	}
	since := m.disconnectedAt[name]
	m.mu.Unlock()

	down := !stats.Connected && now.Sub(since) > m.thresholds.Disconnect
	m.evaluate(ctx, "collector:"+name+":disconnected", down, Alert{
		Severity: SeverityWarning,
		Type:     "collector_disconnected",
		Message:  fmt.Sprintf("collector %s disconnected for over %s", name, m.thresholds.Disconnect),
		Metadata: map[string]any{
			"venue":              name,
			"reconnect_attempts": stats.ReconnectAttempts,
			"error_count":        stats.ErrorCount,
		},
	})
}

// evaluate applies the idempotent firing/resolution discipline for one
// condition.
func (m *Monitor) evaluate(ctx context.Context, id string, firing bool, template Alert) {
	m.mu.Lock()
	existing, isActive := m.active[id]
	m.mu.Unlock()

	switch {
	case firing && !isActive:
		a := template
		a.ID = id
		a.Timestamp = time.Now().UTC()
		a.Service = m.service
		a.Environment = m.environment

		if err := m.sink.Send(ctx, a); err != nil {
			// Leave the condition inactive so the next scan retries.
			m.logger.Warn("alert delivery failed",
				slog.String("alert", id),
				slog.String("error", err.Error()))
			return
		}
		m.mu.Lock()
		m.active[id] = a
		m.mu.Unlock()
		m.logger.Info("alert fired",
			slog.String("alert", id),
			slog.String("severity", string(a.Severity)))

	case !firing && isActive:
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()

		if err := m.sink.Resolve(ctx, existing); err != nil {
			m.logger.Warn("alert resolution delivery failed",
				slog.String("alert", id),
				slog.String("error", err.Error()))
		}
		m.logger.Info("alert resolved", slog.String("alert", id))
	}
}

// Active returns a snapshot of the active alert IDs.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	return out
}

// Compile-time interface check.
var _ domain.Lifecyclable = (*Monitor)(nil)
