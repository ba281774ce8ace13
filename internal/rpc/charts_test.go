package rpc

import (
	"context"
	"sort"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

// memCandles is an in-memory candle store per resolution.
type memCandles struct {
	domain.CandleStore
	candles map[domain.Resolution][]domain.Candle
}

func (m *memCandles) InRange(ctx context.Context, res domain.Resolution, pair domain.Pair, from, to time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range m.candles[res] {
		if c.Pair == pair && !c.PeriodStart.Before(from) && c.PeriodStart.Before(to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (m *memCandles) GetWithOffset(ctx context.Context, res domain.Resolution, pair domain.Pair, limit, offset int) (domain.OffsetPage, error) {
	all := m.candles[res]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return domain.OffsetPage{Candles: all[offset:end], Total: total}, nil
}

func candleAt(pair domain.Pair, start time.Time, closePrice string) domain.Candle {
	return domain.Candle{
		Pair:        pair,
		PeriodStart: start,
		Open:        decimal.RequireFromString("100"),
		High:        decimal.RequireFromString("120"),
		Low:         decimal.RequireFromString("90"),
		Close:       decimal.RequireFromString(closePrice),
		Volume:      decimal.RequireFromString("5"),
		TradeCount:  10,
	}
}

func newChartsFixture() (*ChartsService, *memCandles) {
	store := &memCandles{candles: make(map[domain.Resolution][]domain.Candle)}
	return NewChartsService(store), store
}

func TestGetChartData_AscendingAndAligned(t *testing.T) {
	svc, store := newChartsFixture()
	base := time.Now().UTC().Add(-6 * time.Hour).Truncate(time.Hour)
	store.candles[domain.Resolution1Hour] = []domain.Candle{
		candleAt(domain.PairBTCUSD, base, "101"),
		candleAt(domain.PairBTCUSD, base.Add(time.Hour), "102"),
		candleAt(domain.PairBTCUSD, base.Add(2*time.Hour), "103"),
	}

	out, err := svc.Handle(context.Background(), "getChartData",
		json.RawMessage(`{"pair":"btc-usd","period":"7days","interval":"1hour"}`))
	require.NoError(t, err)

	chart := out.(ChartDataOutput)
	require.Len(t, chart.Dates, 3)
	assert.True(t, sort.StringsAreSorted(chart.Dates), "dates are strictly ascending")
	for i := range chart.Dates {
		assert.True(t, chart.Series[i].Equal(chart.OHLCV.Close[i]),
			"series[i] equals the close of the candle at dates[i]")
	}
	assert.Len(t, chart.OHLCV.Open, 3)
	assert.Len(t, chart.OHLCV.Volume, 3)
}

func TestGetChartData_EmptyRange(t *testing.T) {
	svc, _ := newChartsFixture()

	_, err := svc.Handle(context.Background(), "getChartData",
		json.RawMessage(`{"pair":"btc-usd","period":"24hours","interval":"5min"}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeChartDataNotFound, domain.CodeOf(err))
}

func TestGetChartData_InvalidInterval(t *testing.T) {
	svc, _ := newChartsFixture()

	_, err := svc.Handle(context.Background(), "getChartData",
		json.RawMessage(`{"pair":"btc-usd","period":"24hours","interval":"15min"}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidInterval, domain.CodeOf(err))
}

func TestGetOHLCV_OffsetPagination(t *testing.T) {
	svc, store := newChartsFixture()
	base := time.Now().UTC().Truncate(time.Hour)
	for i := 0; i < 5; i++ {
		store.candles[domain.Resolution1Hour] = append(store.candles[domain.Resolution1Hour],
			candleAt(domain.PairBTCUSD, base.Add(time.Duration(-i)*time.Hour), "100"))
	}

	out, err := svc.Handle(context.Background(), "getOHLCV",
		json.RawMessage(`{"pair":"btc-usd","interval":"1hour","limit":2,"offset":1}`))
	require.NoError(t, err)

	page := out.(OHLCVOutput)
	assert.Len(t, page.Candles, 2)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Limit)
	assert.Equal(t, 1, page.Pagination.Offset)
}

func TestGetOHLCV_LimitBounds(t *testing.T) {
	svc, _ := newChartsFixture()

	_, err := svc.Handle(context.Background(), "getOHLCV",
		json.RawMessage(`{"pair":"btc-usd","interval":"1hour","limit":5000}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))

	_, err = svc.Handle(context.Background(), "getOHLCV",
		json.RawMessage(`{"pair":"btc-usd","interval":"1hour","offset":-1}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))
}
