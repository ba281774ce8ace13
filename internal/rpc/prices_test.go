package rpc

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

// memCache is an in-memory price cache.
type memCache struct {
	prices map[domain.Pair]domain.PricePoint
}

func (m *memCache) SetPrice(ctx context.Context, point domain.PricePoint) error {
	m.prices[point.Pair] = point
	return nil
}

func (m *memCache) GetPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	p, ok := m.prices[pair]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memCache) Ping(ctx context.Context) error { return nil }

// memStore is an in-memory price history keyed by pair, ordered by event time.
type memStore struct {
	domain.PriceHistoryStore
	rows map[domain.Pair][]domain.PricePoint
}

func (m *memStore) Latest(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	rows := m.rows[pair]
	if len(rows) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (m *memStore) FirstAfter(ctx context.Context, pair domain.Pair, t time.Time) (domain.PricePoint, error) {
	for _, r := range m.rows[pair] {
		if !r.EventTime.Before(t) {
			return r, nil
		}
	}
	return domain.PricePoint{}, domain.ErrNotFound
}

func (m *memStore) LastBefore(ctx context.Context, pair domain.Pair, t time.Time) (domain.PricePoint, error) {
	rows := m.rows[pair]
	for i := len(rows) - 1; i >= 0; i-- {
		if !rows[i].EventTime.After(t) {
			return rows[i], nil
		}
	}
	return domain.PricePoint{}, domain.ErrNotFound
}

func point(pair domain.Pair, price string, at time.Time) domain.PricePoint {
	return domain.PricePoint{
		Pair:      pair,
		Price:     decimal.RequireFromString(price),
		EventTime: at,
		Method:    domain.MethodVWAP,
		Sources:   []string{"binance"},
		Volume:    decimal.RequireFromString("1"),
	}
}

func newPricesFixture() (*PricesService, *memCache, *memStore) {
	cache := &memCache{prices: make(map[domain.Pair]domain.PricePoint)}
	store := &memStore{rows: make(map[domain.Pair][]domain.PricePoint)}
	return NewPricesService(cache, store, 120*time.Second), cache, store
}

func call(t *testing.T, svc *PricesService, method, input string) (any, error) {
	t.Helper()
	return svc.Handle(context.Background(), method, json.RawMessage(input))
}

func TestGetPrice_FreshCacheHit(t *testing.T) {
	svc, cache, _ := newPricesFixture()
	cache.prices[domain.PairBTCUSD] = point(domain.PairBTCUSD, "45000", time.Now().UTC())

	out, err := call(t, svc, "getPrice", `{"pair":"btc-usd"}`)
	require.NoError(t, err)

	price := out.(PriceOutput)
	assert.Equal(t, "btc-usd", price.Pair)
	assert.True(t, price.Price.Equal(decimal.RequireFromString("45000")))
}

func TestGetPrice_StaleCacheFallsThroughToStore(t *testing.T) {
	svc, cache, store := newPricesFixture()
	// Cached entry is older than the staleness window and must be treated
	// as a miss.
	cache.prices[domain.PairBTCUSD] = point(domain.PairBTCUSD, "1",
		time.Now().UTC().Add(-10*time.Minute))
	store.rows[domain.PairBTCUSD] = []domain.PricePoint{
		point(domain.PairBTCUSD, "45000", time.Now().UTC().Add(-time.Minute)),
	}

	out, err := call(t, svc, "getPrice", `{"pair":"btc-usd"}`)
	require.NoError(t, err)
	assert.True(t, out.(PriceOutput).Price.Equal(decimal.RequireFromString("45000")))
}

func TestGetPrice_InvalidPair(t *testing.T) {
	svc, _, _ := newPricesFixture()

	_, err := call(t, svc, "getPrice", `{"pair":"doge-usd"}`)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidPair, domain.CodeOf(err))
}

func TestGetPrice_NoDataAnywhere(t *testing.T) {
	svc, _, _ := newPricesFixture()

	_, err := call(t, svc, "getPrice", `{"pair":"btc-usd"}`)
	require.Error(t, err)
	assert.Equal(t, domain.CodePriceUnavailable, domain.CodeOf(err))
}

func TestGetMultiplePrices_DropsMissingPairs(t *testing.T) {
	svc, cache, _ := newPricesFixture()
	cache.prices[domain.PairBTCUSD] = point(domain.PairBTCUSD, "45000", time.Now().UTC())

	out, err := call(t, svc, "getMultiplePrices", `{"pairs":["btc-usd","eth-usd"]}`)
	require.NoError(t, err)

	prices := out.([]PriceOutput)
	require.Len(t, prices, 1, "pairs without data are silently dropped")
	assert.Equal(t, "btc-usd", prices[0].Pair)
}

func TestGetMultiplePrices_BoundsPairCount(t *testing.T) {
	svc, _, _ := newPricesFixture()

	_, err := call(t, svc, "getMultiplePrices", `{"pairs":[]}`)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))

	many := `{"pairs":["btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd","btc-usd"]}`
	_, err = call(t, svc, "getMultiplePrices", many)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))
}

func TestGetPriceChange(t *testing.T) {
	svc, _, store := newPricesFixture()
	now := time.Now().UTC()
	store.rows[domain.PairBTCUSD] = []domain.PricePoint{
		point(domain.PairBTCUSD, "40000", now.Add(-23*time.Hour)),
		point(domain.PairBTCUSD, "44000", now.Add(-time.Hour)),
	}

	out, err := call(t, svc, "getPriceChange", `{"pair":"btc-usd","period":"24hours"}`)
	require.NoError(t, err)

	change := out.(PriceChangeOutput)
	assert.True(t, change.StartPrice.Equal(decimal.RequireFromString("40000")))
	assert.True(t, change.EndPrice.Equal(decimal.RequireFromString("44000")))
	assert.True(t, change.ChangePercent.Equal(decimal.RequireFromString("10")),
		"(44000-40000)/40000 = 10%%, got %s", change.ChangePercent)
}

func TestGetPriceChange_CustomWithoutFrom(t *testing.T) {
	svc, _, _ := newPricesFixture()

	_, err := call(t, svc, "getPriceChange", `{"pair":"btc-usd","period":"custom"}`)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))
}

func TestHandle_UnknownMethod(t *testing.T) {
	svc, _, _ := newPricesFixture()

	_, err := call(t, svc, "getEverything", `{}`)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))
}
