package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

// fakePrices records deletions and serves scripted archive pages.
type fakePrices struct {
	domain.PriceHistoryStore

	mu        sync.Mutex
	rows      []domain.PricePoint
	deletes   []time.Time
	deleteErr error
}

func (f *fakePrices) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PricePoint
	for _, r := range f.rows {
		if r.EventTime.Before(cutoff) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakePrices) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, cutoff)
	var kept []domain.PricePoint
	var removed int64
	for _, r := range f.rows {
		if r.EventTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return removed, nil
}

// fakeCandles records per-resolution deletions.
type fakeCandles struct {
	domain.CandleStore

	mu      sync.Mutex
	deletes map[domain.Resolution]time.Time
	errFor  domain.Resolution
}

func newFakeCandles() *fakeCandles {
	return &fakeCandles{deletes: make(map[domain.Resolution]time.Time)}
}

func (f *fakeCandles) DeleteOlderThan(ctx context.Context, res domain.Resolution, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res == f.errFor {
		return 0, errors.New("table locked")
	}
	f.deletes[res] = cutoff
	return 1, nil
}

// failingArchiver always rejects.
type failingArchiver struct{}

func (f *failingArchiver) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	return errors.New("bucket unavailable")
}

// recordingArchiver captures keys.
type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingArchiver) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func defaultPolicy() Policy {
	return Policy{
		PriceHistoryDays: 7,
		Candles5MinDays:  30,
		Candles1HourDays: 365,
		Candles1DayDays:  0,
	}
}

func TestRun_DeletesPerTableTTLs(t *testing.T) {
	prices := &fakePrices{}
	candles := newFakeCandles()
	s := NewSweeper(prices, candles, defaultPolicy(), nil, "", slog.Default())

	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, prices.deletes, 1)
	assert.Contains(t, candles.deletes, domain.Resolution5Min)
	assert.Contains(t, candles.deletes, domain.Resolution1Hour)
	assert.NotContains(t, candles.deletes, domain.Resolution1Day,
		"zero TTL means keep forever")
}

func TestRun_TableFailuresAreIsolated(t *testing.T) {
	prices := &fakePrices{deleteErr: errors.New("deadlock")}
	candles := newFakeCandles()
	candles.errFor = domain.Resolution5Min
	s := NewSweeper(prices, candles, defaultPolicy(), nil, "", slog.Default())

	require.NoError(t, s.Run(context.Background()),
		"sweep failures are logged, never fatal")
	assert.Contains(t, candles.deletes, domain.Resolution1Hour,
		"one table's failure does not block the others")
}

func TestSweepPrices_ArchiveFailureKeepsRows(t *testing.T) {
	old := domain.PricePoint{Pair: domain.PairBTCUSD,
		EventTime: time.Now().UTC().AddDate(0, 0, -30)}
	prices := &fakePrices{rows: []domain.PricePoint{old}}
	s := NewSweeper(prices, newFakeCandles(), defaultPolicy(),
		&failingArchiver{}, "", slog.Default())

	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, prices.deletes,
		"rows are never deleted when their archive upload failed")
	assert.Len(t, prices.rows, 1)
}

func TestSweepPrices_ArchivesBeforeDelete(t *testing.T) {
	old := domain.PricePoint{Pair: domain.PairBTCUSD,
		EventTime: time.Now().UTC().AddDate(0, 0, -30)}
	prices := &fakePrices{rows: []domain.PricePoint{old}}
	archiver := &recordingArchiver{}
	s := NewSweeper(prices, newFakeCandles(), defaultPolicy(),
		archiver, "cold/", slog.Default())

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, archiver.keys, 1)
	assert.Contains(t, archiver.keys[0], "cold/price_history/")
	assert.Len(t, prices.deletes, 1, "delete follows a successful archive")
	assert.Empty(t, prices.rows)
}
