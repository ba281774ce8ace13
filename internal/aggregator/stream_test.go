package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

// fakeVenueLog serves scripted entries for one venue.
type fakeVenueLog struct {
	mu      sync.Mutex
	entries map[string][]domain.StreamEntry
	acked   map[string][]string
	groups  []string
}

func newFakeVenueLog() *fakeVenueLog {
	return &fakeVenueLog{
		entries: make(map[string][]domain.StreamEntry),
		acked:   make(map[string][]string),
	}
}

func (f *fakeVenueLog) Append(ctx context.Context, venue string, trade domain.Trade) (string, error) {
	return "", nil
}

func (f *fakeVenueLog) CreateGroup(ctx context.Context, venue, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, venue+"/"+group)
	return nil
}

func (f *fakeVenueLog) ReadGroup(ctx context.Context, venue, group, consumer string, count int64, block time.Duration) ([]domain.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.entries[venue]
	f.entries[venue] = nil
	return out, nil
}

func (f *fakeVenueLog) Ack(ctx context.Context, venue, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[venue] = append(f.acked[venue], id)
	return nil
}

// fakeBuffer is an in-memory trade buffer ordered by event time.
type fakeBuffer struct {
	mu     sync.Mutex
	trades map[domain.Pair][]domain.Trade
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{trades: make(map[domain.Pair][]domain.Trade)}
}

func (f *fakeBuffer) Add(ctx context.Context, trade domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades[trade.Pair] = append(f.trades[trade.Pair], trade)
	return nil
}

func (f *fakeBuffer) Range(ctx context.Context, pair domain.Pair, from, to int64) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Trade
	for _, t := range f.trades[pair] {
		if t.EventTime >= from && t.EventTime <= to {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBuffer) Prune(ctx context.Context, pair domain.Pair, cutoff int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.Trade
	var removed int64
	for _, t := range f.trades[pair] {
		if t.EventTime < cutoff {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	f.trades[pair] = kept
	return removed, nil
}

// fakePriceStore records inserts and can fail a scripted number of times.
type fakePriceStore struct {
	domain.PriceHistoryStore

	mu       sync.Mutex
	inserted []domain.PricePoint
	failures int
}

func (f *fakePriceStore) Insert(ctx context.Context, point domain.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient store failure")
	}
	f.inserted = append(f.inserted, point)
	return nil
}

func (f *fakePriceStore) rows() []domain.PricePoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PricePoint{}, f.inserted...)
}

// fakePriceCache records the latest SetPrice per pair.
type fakePriceCache struct {
	mu     sync.Mutex
	prices map[domain.Pair]domain.PricePoint
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: make(map[domain.Pair]domain.PricePoint)}
}

func (f *fakePriceCache) SetPrice(ctx context.Context, point domain.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[point.Pair] = point
	return nil
}

func (f *fakePriceCache) GetPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[pair]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePriceCache) Ping(ctx context.Context) error { return nil }

// fakeBus records published price points per pair.
type fakeBus struct {
	mu        sync.Mutex
	published map[domain.Pair][]domain.PricePoint
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[domain.Pair][]domain.PricePoint)}
}

func (f *fakeBus) Publish(ctx context.Context, point domain.PricePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[point.Pair] = append(f.published[point.Pair], point)
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, pair domain.Pair) (<-chan domain.PricePoint, error) {
	ch := make(chan domain.PricePoint)
	close(ch)
	return ch, nil
}

// fakeRates serves a fixed rate.
type fakeRates struct {
	rate   decimal.Decimal
	status domain.RateStatus
}

func (f *fakeRates) GetRate(ctx context.Context) (decimal.Decimal, domain.RateStatus) {
	return f.rate, f.status
}

func newTestStream(store *fakePriceStore, buffer *fakeBuffer, rate string) *Stream {
	return NewStream(
		newFakeVenueLog(),
		buffer,
		store,
		newFakePriceCache(),
		newFakeBus(),
		&fakeRates{rate: decimal.RequireFromString(rate), status: domain.RateFresh},
		StreamConfig{
			Venues:               []string{"binance"},
			Pairs:                []domain.Pair{domain.PairBTCUSD},
			Interval:             10 * time.Second,
			Window:               30 * time.Second,
			MaxConsecutiveErrors: 10,
		},
		slog.Default(),
	)
}

func TestTick_EmitsUSDAndDerivedRUB(t *testing.T) {
	store := &fakePriceStore{}
	buffer := newFakeBuffer()
	s := newTestStream(store, buffer, "95.5")

	now := time.Now().UTC()
	require.NoError(t, buffer.Add(context.Background(), domain.Trade{
		Venue:     "binance",
		Pair:      domain.PairBTCUSD,
		Price:     decimal.RequireFromString("100"),
		Volume:    decimal.RequireFromString("1"),
		EventTime: now.Add(-5 * time.Second).UnixMilli(),
	}))

	s.tick(context.Background())

	rows := store.rows()
	require.Len(t, rows, 2)

	usd := rows[0]
	assert.Equal(t, domain.PairBTCUSD, usd.Pair)
	assert.True(t, usd.Price.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, domain.MethodVWAP, usd.Method)
	assert.Equal(t, []string{"binance"}, usd.Sources)

	rub := rows[1]
	assert.Equal(t, domain.PairBTCRUB, rub.Pair)
	assert.True(t, rub.Price.Equal(decimal.RequireFromString("9550")),
		"rub price is vwap × rate, got %s", rub.Price)
	assert.Equal(t, []string{"binance", "cbr"}, rub.Sources)
	assert.Equal(t, usd.EventTime, rub.EventTime,
		"both rows share the emission wall clock")
	assert.True(t, usd.Valid())
	assert.True(t, rub.Valid())
}

func TestTick_EmptyBufferEmitsNothing(t *testing.T) {
	store := &fakePriceStore{}
	s := newTestStream(store, newFakeBuffer(), "95.5")

	s.tick(context.Background())

	assert.Empty(t, store.rows())
	assert.Equal(t, int64(1), s.Stats().TotalTicks)
}

func TestTick_PrunesOutsideWindow(t *testing.T) {
	store := &fakePriceStore{}
	buffer := newFakeBuffer()
	s := newTestStream(store, buffer, "95.5")

	ctx := context.Background()
	now := time.Now().UTC()
	old := domain.Trade{
		Venue:     "binance",
		Pair:      domain.PairBTCUSD,
		Price:     decimal.RequireFromString("90"),
		Volume:    decimal.RequireFromString("1"),
		EventTime: now.Add(-2 * time.Minute).UnixMilli(),
	}
	require.NoError(t, buffer.Add(ctx, old))

	s.tick(ctx)

	cutoff := time.Now().UTC().Add(-30 * time.Second).UnixMilli()
	remaining, err := buffer.Range(ctx, domain.PairBTCUSD, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	for _, tr := range remaining {
		assert.GreaterOrEqual(t, tr.EventTime, cutoff,
			"no buffered trade may be older than the window after a tick")
	}
}

func TestPersistWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	store := &fakePriceStore{failures: 1}
	s := newTestStream(store, newFakeBuffer(), "95.5")

	point := domain.PricePoint{
		Pair:      domain.PairBTCUSD,
		Price:     decimal.RequireFromString("100"),
		EventTime: time.Now().UTC(),
		Method:    domain.MethodVWAP,
		Sources:   []string{"binance"},
		Volume:    decimal.RequireFromString("1"),
	}

	err := s.persistWithRetry(context.Background(), point)
	require.NoError(t, err)
	assert.Len(t, store.rows(), 1)
}

func TestConsumeVenue_BuffersAndAcks(t *testing.T) {
	log := newFakeVenueLog()
	buffer := newFakeBuffer()
	store := &fakePriceStore{}

	s := NewStream(log, buffer, store, newFakePriceCache(), newFakeBus(),
		&fakeRates{rate: decimal.RequireFromString("90"), status: domain.RateFallback},
		StreamConfig{
			Venues:               []string{"binance"},
			Pairs:                []domain.Pair{domain.PairBTCUSD},
			Interval:             10 * time.Second,
			Window:               30 * time.Second,
			MaxConsecutiveErrors: 10,
		}, slog.Default())

	log.entries["binance"] = []domain.StreamEntry{
		{ID: "1-0", Trade: domain.Trade{
			Venue:     "binance",
			Pair:      domain.PairBTCUSD,
			Price:     decimal.RequireFromString("45000"),
			Volume:    decimal.RequireFromString("0.5"),
			EventTime: time.Now().UnixMilli(),
		}},
	}

	require.NoError(t, s.consumeVenue(context.Background(), "binance"))

	assert.Equal(t, []string{"1-0"}, log.acked["binance"])
	trades, err := buffer.Range(context.Background(), domain.PairBTCUSD, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}
