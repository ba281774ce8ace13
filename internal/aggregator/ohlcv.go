package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
	"github.com/priceverse/priceverse/internal/schedule"
)

// IntervalStats tracks one resolution's last run for health reporting.
type IntervalStats struct {
	LastRun        time.Time `json:"last_run"`
	ProcessedCount int       `json:"processed_count"`
}

// OHLCV rolls canonical prices up into candles on wall-clock boundaries:
// five-minute candles every five minutes for the just-closed block, hourly
// candles at the top of each hour, and daily candles at midnight UTC for the
// previous day. Each computation runs inside a READ COMMITTED transaction
// and is idempotent, so recomputes are last-writer-wins.
type OHLCV struct {
	tx     domain.StoreTxRunner
	pairs  []domain.Pair
	logger *slog.Logger

	mu    sync.Mutex
	stats map[domain.Resolution]IntervalStats
}

// NewOHLCV creates the OHLCV aggregator over all served pairs.
func NewOHLCV(tx domain.StoreTxRunner, pairs []domain.Pair, logger *slog.Logger) *OHLCV {
	return &OHLCV{
		tx:     tx,
		pairs:  pairs,
		logger: logger.With(slog.String("component", "ohlcv_aggregator")),
		stats:  make(map[domain.Resolution]IntervalStats),
	}
}

// Register attaches the three roll-up schedules to the registry. Boundaries
// are evaluated in UTC.
func (o *OHLCV) Register(reg *schedule.Registry) error {
	if err := reg.AddCron("ohlcv:5min", "*/5 * * * *", time.UTC, func(ctx context.Context) error {
		return o.Run(ctx, domain.Resolution5Min, time.Now().UTC())
	}); err != nil {
		return err
	}
	if err := reg.AddCron("ohlcv:1hour", "0 * * * *", time.UTC, func(ctx context.Context) error {
		return o.Run(ctx, domain.Resolution1Hour, time.Now().UTC())
	}); err != nil {
		return err
	}
	return reg.AddCron("ohlcv:1day", "0 0 * * *", time.UTC, func(ctx context.Context) error {
		return o.Run(ctx, domain.Resolution1Day, time.Now().UTC())
	})
}

// period resolves the candle window for a trigger time: the just-closed
// five-minute block, the hour just starting, or the previous UTC day.
func period(res domain.Resolution, now time.Time) (time.Time, time.Time) {
	boundary := res.PeriodStart(now)
	switch res {
	case domain.Resolution5Min:
		return boundary.Add(-res.Duration()), boundary
	case domain.Resolution1Hour:
		return boundary, boundary.Add(res.Duration())
	default: // previous UTC day
		return boundary.Add(-res.Duration()), boundary
	}
}

// Run computes and upserts one resolution's candles for every pair. Pair
// failures are isolated; the first error is reported after all pairs ran.
func (o *OHLCV) Run(ctx context.Context, res domain.Resolution, now time.Time) error {
	from, to := period(res, now)

	processed := 0
	var firstErr error
	for _, pair := range o.pairs {
		if ctx.Err() != nil {
			break
		}
		written, err := o.aggregatePair(ctx, res, pair, from, to)
		if err != nil {
			o.logger.Error("candle aggregation failed",
				slog.String("resolution", string(res)),
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if written {
			processed++
		}
	}

	o.mu.Lock()
	o.stats[res] = IntervalStats{LastRun: now, ProcessedCount: processed}
	o.mu.Unlock()

	o.logger.Info("candles rolled up",
		slog.String("resolution", string(res)),
		slog.Time("period_start", from),
		slog.Int("processed", processed))
	return firstErr
}

// aggregatePair computes one (pair, period) candle. It returns false when
// the period holds no prices for the pair.
func (o *OHLCV) aggregatePair(ctx context.Context, res domain.Resolution, pair domain.Pair, from, to time.Time) (bool, error) {
	written := false
	err := o.tx.InTx(ctx, func(prices domain.PriceHistoryStore, candles domain.CandleStore) error {
		rows, err := prices.InRange(ctx, pair, from, to.Add(-time.Millisecond), domain.RangeOpts{
			Limit: domain.MaxRangeLimit,
			Order: domain.OrderAsc,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		candle := ComputeCandle(pair, from, rows)
		if err := candles.Upsert(ctx, res, candle); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// ComputeCandle builds the OHLCV candle for rows ordered by event time
// ascending. When total volume is zero the VWAP falls back to the mean of
// open and close so the candle stays usable.
func ComputeCandle(pair domain.Pair, periodStart time.Time, rows []domain.PricePoint) domain.Candle {
	open := rows[0].Price
	closePrice := rows[len(rows)-1].Price
	high := open
	low := open
	volume := decimal.Zero
	weighted := decimal.Zero

	for _, r := range rows {
		if r.Price.GreaterThan(high) {
			high = r.Price
		}
		if r.Price.LessThan(low) {
			low = r.Price
		}
		volume = volume.Add(r.Volume)
		weighted = weighted.Add(r.Price.Mul(r.Volume))
	}

	var vwap decimal.Decimal
	if volume.IsPositive() {
		vwap = weighted.DivRound(volume, 12)
	} else {
		vwap = open.Add(closePrice).DivRound(decimal.NewFromInt(2), 12)
	}

	return domain.Candle{
		Pair:        pair,
		PeriodStart: periodStart,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		Volume:      volume,
		VWAP:        &vwap,
		TradeCount:  len(rows),
	}
}

// Stats returns per-resolution run information.
func (o *OHLCV) Stats() map[domain.Resolution]IntervalStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[domain.Resolution]IntervalStats, len(o.stats))
	for k, v := range o.stats {
		out[k] = v
	}
	return out
}

// HealthCheck reports degraded when a resolution has not run within twice
// its period since the process produced its first roll-up.
func (o *OHLCV) HealthCheck() domain.HealthReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	checks := make(map[string]domain.Check)
	status := domain.StatusHealthy
	for _, res := range domain.Resolutions() {
		s, ok := o.stats[res]
		if !ok {
			checks[string(res)] = domain.Check{Status: domain.StatusHealthy, Message: "no runs yet"}
			continue
		}
		if time.Since(s.LastRun) > 2*res.Duration() {
			status = domain.StatusDegraded
			checks[string(res)] = domain.Check{Status: domain.StatusDegraded, Message: "roll-up stalled"}
			continue
		}
		checks[string(res)] = domain.Check{Status: domain.StatusHealthy}
	}

	return domain.HealthReport{Status: status, Checks: checks}
}

// Name identifies the component in health reports.
func (o *OHLCV) Name() string { return "ohlcv_aggregator" }

// Compile-time interface check.
var _ domain.HealthReporter = (*OHLCV)(nil)
