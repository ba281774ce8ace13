package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/priceverse/priceverse/internal/domain"
)

const (
	// ConsumerGroup is the single consumer group shared by all aggregator
	// instances across every venue log.
	ConsumerGroup = "aggregators"

	// readCount and readBlock bound one consumption iteration. The block
	// time is short so shutdown is never stuck waiting for traffic.
	readCount = 100
	readBlock = time.Second

	// errorResetWindow clears the consecutive error counter after a
	// quiet minute.
	errorResetWindow = 60 * time.Second

	// persistAttempts / persistBaseDelay drive the store write retry.
	persistAttempts  = 3
	persistBaseDelay = 500 * time.Millisecond

	// cbrSource is the source tag appended to derived RUB rows.
	cbrSource = "cbr"
)

// StreamConfig tunes the stream aggregator.
type StreamConfig struct {
	Venues               []string
	Pairs                []domain.Pair
	Interval             time.Duration
	Window               time.Duration
	MaxConsecutiveErrors int
}

// StreamStats is a snapshot of the aggregator's counters.
type StreamStats struct {
	Running            bool      `json:"running"`
	ConsumerID         string    `json:"consumer_id"`
	ConsecutiveErrors  int64     `json:"consecutive_errors"`
	LastSuccessfulTick time.Time `json:"last_successful_tick"`
	TotalTicks         int64     `json:"total_ticks"`
}

// Stream converts the venue trade streams into one canonical price per base
// pair every tick, persists and broadcasts it, and derives each RUB pair
// from its USD counterpart. Two concurrent activities run inside it: the
// consumption loop draining the venue logs into the trade buffer, and the
// tick loop computing VWAPs over the trailing window.
type Stream struct {
	log    domain.VenueLog
	buffer domain.TradeBuffer
	store  domain.PriceHistoryStore
	cache  domain.PriceCache
	bus    domain.PriceBroadcast
	rates  domain.RateSource
	cfg    StreamConfig
	logger *slog.Logger

	consumerID string

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	consecutiveErrors atomic.Int64
	lastErrorUnix     atomic.Int64
	lastTickUnix      atomic.Int64
	totalTicks        atomic.Int64
	errorCount        atomic.Int64
}

// NewStream creates the stream aggregator.
func NewStream(
	log domain.VenueLog,
	buffer domain.TradeBuffer,
	store domain.PriceHistoryStore,
	cache domain.PriceCache,
	bus domain.PriceBroadcast,
	rates domain.RateSource,
	cfg StreamConfig,
	logger *slog.Logger,
) *Stream {
	return &Stream{
		log:        log,
		buffer:     buffer,
		store:      store,
		cache:      cache,
		bus:        bus,
		rates:      rates,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "stream_aggregator")),
		consumerID: "aggregator-" + uuid.NewString()[:8],
	}
}

// Name identifies the worker for the supervisor.
func (s *Stream) Name() string { return "stream_aggregator" }

// Start creates the consumer groups and launches the consumption and tick
// loops.
func (s *Stream) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}

	for _, venue := range s.cfg.Venues {
		if err := s.log.CreateGroup(ctx, venue, ConsumerGroup); err != nil {
			return fmt.Errorf("stream aggregator: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	s.consecutiveErrors.Store(0)

	go func() {
		defer close(s.done)
		defer s.running.Store(false)

		g, gctx := errgroup.WithContext(runCtx)
		g.Go(func() error { return s.consumeLoop(gctx) })
		g.Go(func() error { return s.tickLoop(gctx) })
		if err := g.Wait(); err != nil && runCtx.Err() == nil {
			s.logger.Error("aggregator stopped with error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("stream aggregator started",
		slog.String("consumer_id", s.consumerID),
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("window", s.cfg.Window))
	return nil
}

// Stop cancels both loops and waits for them to drain, bounded by ctx.
func (s *Stream) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		s.logger.Info("stream aggregator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream aggregator: stop: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the aggregator's counters.
func (s *Stream) Stats() StreamStats {
	var lastTick time.Time
	if ms := s.lastTickUnix.Load(); ms > 0 {
		lastTick = time.UnixMilli(ms).UTC()
	}
	return StreamStats{
		Running:            s.running.Load(),
		ConsumerID:         s.consumerID,
		ConsecutiveErrors:  s.consecutiveErrors.Load(),
		LastSuccessfulTick: lastTick,
		TotalTicks:         s.totalTicks.Load(),
	}
}

// HealthCheck reports unhealthy when the aggregator is down or its error
// budget is exhausted, degraded when ticks have stalled.
func (s *Stream) HealthCheck() domain.HealthReport {
	checks := make(map[string]domain.Check)

	if !s.running.Load() {
		checks["running"] = domain.Check{Status: domain.StatusUnhealthy, Message: "not running"}
		return domain.HealthReport{Status: domain.StatusUnhealthy, Checks: checks}
	}
	checks["running"] = domain.Check{Status: domain.StatusHealthy}

	if errs := s.consecutiveErrors.Load(); errs >= int64(s.cfg.MaxConsecutiveErrors) {
		checks["consumption"] = domain.Check{
			Status:  domain.StatusUnhealthy,
			Message: fmt.Sprintf("%d consecutive errors", errs),
		}
		return domain.HealthReport{Status: domain.StatusUnhealthy, Checks: checks}
	}
	checks["consumption"] = domain.Check{Status: domain.StatusHealthy}

	status := domain.StatusHealthy
	lastMs := s.lastTickUnix.Load()
	if lastMs > 0 && time.Since(time.UnixMilli(lastMs)) > 3*s.cfg.Interval {
		status = domain.StatusDegraded
		checks["ticks"] = domain.Check{Status: domain.StatusDegraded, Message: "tick stalled"}
	} else {
		checks["ticks"] = domain.Check{Status: domain.StatusHealthy}
	}

	return domain.HealthReport{Status: status, Checks: checks}
}

// consumeLoop drains every venue log in turn into the trade buffer. Ten
// consecutive failed iterations trip the circuit breaker and shut the loop
// down; the error counter resets after a quiet minute.
func (s *Stream) consumeLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// A quiet minute clears the consecutive error budget.
		if last := s.lastErrorUnix.Load(); last > 0 &&
			time.Since(time.UnixMilli(last)) > errorResetWindow {
			s.consecutiveErrors.Store(0)
		}

		iterationErr := false
		for _, venue := range s.cfg.Venues {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.consumeVenue(ctx, venue); err != nil {
				iterationErr = true
				s.logger.Warn("consume failed",
					slog.String("venue", venue),
					slog.String("error", err.Error()))
			}
		}

		if iterationErr {
			errs := s.consecutiveErrors.Add(1)
			s.lastErrorUnix.Store(time.Now().UnixMilli())
			if errs >= int64(s.cfg.MaxConsecutiveErrors) {
				s.logger.Error("consumption circuit breaker tripped",
					slog.Int64("consecutive_errors", errs))
				return fmt.Errorf("stream aggregator: %d consecutive errors", errs)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeBackoff(errs)):
			}
		}
	}
}

// consumeBackoff computes min(2^(errors−1) × 1s, 30s).
func consumeBackoff(errs int64) time.Duration {
	if errs <= 0 {
		return 0
	}
	if errs > 6 {
		return 30 * time.Second
	}
	d := time.Second << uint(errs-1)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// consumeVenue reads one batch from a venue log into the buffer.
func (s *Stream) consumeVenue(ctx context.Context, venue string) error {
	entries, err := s.log.ReadGroup(ctx, venue, ConsumerGroup, s.consumerID, readCount, readBlock)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := s.buffer.Add(ctx, entry.Trade); err != nil {
			return err
		}
		if err := s.log.Ack(ctx, venue, ConsumerGroup, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

// tickLoop aggregates every base pair at each tick boundary.
func (s *Stream) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one aggregation pass. Per-pair errors are isolated: one pair's
// failure never stops the others.
func (s *Stream) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, pair := range s.cfg.Pairs {
		if ctx.Err() != nil {
			return
		}
		if err := s.aggregatePair(ctx, pair, now); err != nil {
			s.errorCount.Add(1)
			s.logger.Error("aggregation failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()))
		}
	}
	s.lastTickUnix.Store(now.UnixMilli())
	s.totalTicks.Add(1)
}

// aggregatePair computes one pair's VWAP over the trailing window, persists
// and broadcasts the canonical price, and derives the RUB pair.
func (s *Stream) aggregatePair(ctx context.Context, pair domain.Pair, now time.Time) error {
	nowMs := now.UnixMilli()
	windowStart := nowMs - s.cfg.Window.Milliseconds()

	trades, err := s.buffer.Range(ctx, pair, windowStart, nowMs)
	if err != nil {
		return err
	}

	// Evict everything older than the window before the next tick reads,
	// regardless of whether this one emits.
	if _, err := s.buffer.Prune(ctx, pair, windowStart); err != nil {
		s.logger.Warn("buffer prune failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()))
	}

	result, ok := ComputeVWAP(trades)
	if !ok {
		return nil
	}

	point := domain.PricePoint{
		Pair:      pair,
		Price:     result.Price,
		EventTime: now,
		Method:    domain.MethodVWAP,
		Sources:   result.Sources,
		Volume:    result.Volume,
	}
	if err := s.persistWithRetry(ctx, point); err != nil {
		return err
	}
	s.publish(ctx, point)

	// Derive the RUB pair when a positive rate is available, whatever its
	// freshness; readers tolerate stale and fallback values.
	if derived, ok := pair.Derived(); ok {
		rate, _ := s.rates.GetRate(ctx)
		if rate.IsPositive() {
			rubPoint := domain.PricePoint{
				Pair:      derived,
				Price:     result.Price.Mul(rate),
				EventTime: now,
				Method:    domain.MethodVWAP,
				Sources:   append(append([]string{}, result.Sources...), cbrSource),
				Volume:    result.Volume,
			}
			if err := s.persistWithRetry(ctx, rubPoint); err != nil {
				return err
			}
			s.publish(ctx, rubPoint)
		}
	}

	return nil
}

// persistWithRetry writes a canonical price, retrying transient store errors
// with exponential backoff.
func (s *Stream) persistWithRetry(ctx context.Context, point domain.PricePoint) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = s.store.Insert(ctx, point); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < persistAttempts {
			delay := persistBaseDelay << uint(attempt-1)
			s.logger.Warn("price insert failed, retrying",
				slog.String("pair", point.Pair.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("persist %s after %d attempts: %w", point.Pair, persistAttempts, err)
}

// publish caches the price and broadcasts it on the pair's channel. Cache
// and broadcast failures are logged but never fail the tick: the durable row
// is already written.
func (s *Stream) publish(ctx context.Context, point domain.PricePoint) {
	if err := s.cache.SetPrice(ctx, point); err != nil {
		s.logger.Warn("price cache failed",
			slog.String("pair", point.Pair.String()),
			slog.String("error", err.Error()))
	}

	if err := s.bus.Publish(ctx, point); err != nil {
		s.logger.Warn("price broadcast failed",
			slog.String("pair", point.Pair.String()),
			slog.String("error", err.Error()))
	}
}

// Compile-time interface checks.
var (
	_ domain.Lifecyclable   = (*Stream)(nil)
	_ domain.HealthReporter = (*Stream)(nil)
)
