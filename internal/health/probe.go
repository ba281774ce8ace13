// Package health aggregates per-component health reports and connectivity
// probes into the single view served by the health RPC service.
package health

import (
	"context"
	"time"

	"github.com/priceverse/priceverse/internal/aggregator"
	"github.com/priceverse/priceverse/internal/domain"
)

// Pinger is a connectivity probe (database, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// TickSource reports the stream aggregator's progress, gating readiness on
// its first successful tick.
type TickSource interface {
	Stats() aggregator.StreamStats
}

// Summary is the aggregated health view.
type Summary struct {
	Status    domain.Status           `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    time.Duration           `json:"uptime"`
	Version   string                  `json:"version"`
	Checks    map[string]domain.Check `json:"checks"`
	Latency   time.Duration           `json:"latency"`
}

// Probe samples the registered reporters plus the database and cache.
type Probe struct {
	version   string
	startedAt time.Time
	db        Pinger
	cache     Pinger
	ticks     TickSource
	reporters []domain.HealthReporter
}

// NewProbe creates a Probe. The reporters slice is sampled on every check;
// a nil ticks source disables the first-tick readiness gate.
func NewProbe(version string, db, cache Pinger, ticks TickSource, reporters []domain.HealthReporter) *Probe {
	return &Probe{
		version:   version,
		startedAt: time.Now(),
		db:        db,
		cache:     cache,
		ticks:     ticks,
		reporters: reporters,
	}
}

// Check samples everything and reduces to one status: any unhealthy wins,
// else any degraded, else healthy.
func (p *Probe) Check(ctx context.Context) Summary {
	start := time.Now()
	checks := make(map[string]domain.Check)
	var statuses []domain.Status

	checks["database"] = p.ping(ctx, p.db)
	statuses = append(statuses, checks["database"].Status)

	checks["cache"] = p.ping(ctx, p.cache)
	statuses = append(statuses, checks["cache"].Status)

	for _, r := range p.reporters {
		report := r.HealthCheck()
		checks[r.Name()] = domain.Check{Status: report.Status, Message: firstMessage(report)}
		statuses = append(statuses, report.Status)
	}

	return Summary{
		Status:    domain.Reduce(statuses...),
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(p.startedAt),
		Version:   p.version,
		Checks:    checks,
		Latency:   time.Since(start),
	}
}

// Ready reports whether the process can serve traffic: the database and
// cache must answer, and the stream aggregator must have completed its
// first successful tick.
func (p *Probe) Ready(ctx context.Context) (bool, string) {
	if err := p.db.Ping(ctx); err != nil {
		return false, "database unreachable"
	}
	if err := p.cache.Ping(ctx); err != nil {
		return false, "cache unreachable"
	}
	if p.ticks != nil && p.ticks.Stats().TotalTicks == 0 {
		return false, "no successful aggregation tick yet"
	}
	return true, ""
}

// ping runs one connectivity probe with latency measurement.
func (p *Probe) ping(ctx context.Context, target Pinger) domain.Check {
	if target == nil {
		return domain.Check{Status: domain.StatusHealthy, Message: "not configured"}
	}

	start := time.Now()
	if err := target.Ping(ctx); err != nil {
		return domain.Check{
			Status:  domain.StatusUnhealthy,
			Latency: time.Since(start),
			Message: err.Error(),
		}
	}
	return domain.Check{Status: domain.StatusHealthy, Latency: time.Since(start)}
}

// firstMessage pulls a representative message out of a component report.
func firstMessage(report domain.HealthReport) string {
	for _, c := range report.Checks {
		if c.Message != "" && c.Status != domain.StatusHealthy {
			return c.Message
		}
	}
	return ""
}
