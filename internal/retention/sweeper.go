// Package retention removes rows past their per-table TTLs on a cron
// schedule, optionally archiving price history to object storage first.
package retention

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/priceverse/priceverse/internal/domain"
	"github.com/priceverse/priceverse/internal/schedule"
)

// Policy holds the per-table TTLs in days. Zero means keep forever.
type Policy struct {
	PriceHistoryDays int
	Candles5MinDays  int
	Candles1HourDays int
	Candles1DayDays  int
	Schedule         string // 5-field cron, local time
}

// ArchiveWriter receives the JSONL archive object before rows are deleted.
type ArchiveWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Sweeper deletes expired rows. Table failures are independent: one table's
// error never blocks the others, and nothing here is fatal.
type Sweeper struct {
	prices   domain.PriceHistoryStore
	candles  domain.CandleStore
	policy   Policy
	archiver ArchiveWriter // nil disables archival
	prefix   string
	logger   *slog.Logger
}

// NewSweeper creates the retention sweeper. A nil archiver skips archival.
func NewSweeper(
	prices domain.PriceHistoryStore,
	candles domain.CandleStore,
	policy Policy,
	archiver ArchiveWriter,
	prefix string,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		prices:   prices,
		candles:  candles,
		policy:   policy,
		archiver: archiver,
		prefix:   prefix,
		logger:   logger.With(slog.String("component", "retention")),
	}
}

// Register attaches the sweep to the schedule registry on the configured
// cron expression, evaluated in local time.
func (s *Sweeper) Register(reg *schedule.Registry) error {
	expr := s.policy.Schedule
	if expr == "" {
		expr = "0 3 * * *"
	}
	return reg.AddCron("retention:sweep", expr, time.Local, s.Run)
}

// Run executes one sweep across all tables.
func (s *Sweeper) Run(ctx context.Context) error {
	now := time.Now().UTC()

	if cutoff, ok := cutoffFor(now, s.policy.PriceHistoryDays); ok {
		s.sweepPrices(ctx, cutoff)
	}

	candleTTLs := []struct {
		res  domain.Resolution
		days int
	}{
		{domain.Resolution5Min, s.policy.Candles5MinDays},
		{domain.Resolution1Hour, s.policy.Candles1HourDays},
		{domain.Resolution1Day, s.policy.Candles1DayDays},
	}
	for _, t := range candleTTLs {
		cutoff, ok := cutoffFor(now, t.days)
		if !ok {
			continue
		}
		n, err := s.candles.DeleteOlderThan(ctx, t.res, cutoff)
		if err != nil {
			s.logger.Error("candle sweep failed",
				slog.String("resolution", string(t.res)),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("candles swept",
			slog.String("resolution", string(t.res)),
			slog.Int64("deleted", n))
	}

	return nil
}

// cutoffFor converts a TTL in days into a deletion cutoff. Zero or negative
// TTL means keep forever.
func cutoffFor(now time.Time, days int) (time.Time, bool) {
	if days <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -days), true
}

// sweepPrices archives (when configured) and deletes expired price rows.
func (s *Sweeper) sweepPrices(ctx context.Context, cutoff time.Time) {
	if s.archiver != nil {
		if err := s.archivePrices(ctx, cutoff); err != nil {
			// Archival failure skips this sweep's delete rather than
			// destroying unarchived rows; the next run retries.
			s.logger.Error("price archive failed, keeping rows",
				slog.String("error", err.Error()))
			return
		}
	}

	n, err := s.prices.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("price sweep failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("price history swept", slog.Int64("deleted", n))
}

// archivePrices writes all expiring rows to object storage as JSONL pages.
func (s *Sweeper) archivePrices(ctx context.Context, cutoff time.Time) error {
	page := 0
	for {
		rows, err := s.prices.ListBefore(ctx, cutoff, domain.MaxRangeLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode archive row: %w", err)
			}
		}

		key := fmt.Sprintf("%sprice_history/%s/page-%04d.jsonl",
			s.prefix, cutoff.Format("2006-01-02"), page)
		if err := s.archiver.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
			return err
		}

		s.logger.Info("price archive page written",
			slog.String("key", key),
			slog.Int("rows", len(rows)))

		if len(rows) < domain.MaxRangeLimit {
			return nil
		}

		// Delete the archived page so the next ListBefore advances.
		last := rows[len(rows)-1].EventTime.Add(time.Millisecond)
		if last.After(cutoff) {
			last = cutoff
		}
		if _, err := s.prices.DeleteOlderThan(ctx, last); err != nil {
			return err
		}
		page++
	}
}
