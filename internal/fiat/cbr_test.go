package fiat

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

const sampleFeed = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="01.06.2025" name="Foreign Currency Market">
	<Valute ID="R01235">
		<NumCode>840</NumCode>
		<CharCode>USD</CharCode>
		<Nominal>1</Nominal>
		<Name>Доллар США</Name>
		<Value>95,5000</Value>
	</Valute>
	<Valute ID="R01239">
		<NumCode>978</NumCode>
		<CharCode>EUR</CharCode>
		<Nominal>1</Nominal>
		<Name>Евро</Name>
		<Value>103,2000</Value>
	</Valute>
</ValCurs>`

func TestParseUSDRate(t *testing.T) {
	rate, err := ParseUSDRate([]byte(sampleFeed))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("95.5")),
		"comma decimal separator parses, got %s", rate)
}

func TestParseUSDRate_NominalDivides(t *testing.T) {
	feed := `<ValCurs><Valute><CharCode>USD</CharCode><Nominal>10</Nominal><Value>955,00</Value></Valute></ValCurs>`
	rate, err := ParseUSDRate([]byte(feed))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("95.5")))
}

func TestParseUSDRate_MissingUSD(t *testing.T) {
	feed := `<ValCurs><Valute><CharCode>EUR</CharCode><Nominal>1</Nominal><Value>103,20</Value></Valute></ValCurs>`
	_, err := ParseUSDRate([]byte(feed))
	assert.Error(t, err)
}

func newTestCBR(url string) *CBR {
	return New(Config{
		URL:           url,
		CacheTTL:      time.Hour,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		FallbackRate:  decimal.RequireFromString("90"),
	}, slog.Default())
}

func TestGetRate_FallbackBeforeFirstSuccess(t *testing.T) {
	c := newTestCBR("http://127.0.0.1:0")

	rate, status := c.GetRate(context.Background())
	assert.Equal(t, domain.RateFallback, status)
	assert.True(t, rate.Equal(decimal.RequireFromString("90")),
		"before any success the configured fallback is served")
}

func TestRefresh_SuccessMakesRateFresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	c := newTestCBR(server.URL)
	c.refresh(context.Background())

	rate, status := c.GetRate(context.Background())
	assert.Equal(t, domain.RateFresh, status)
	assert.True(t, rate.Equal(decimal.RequireFromString("95.5")))
	assert.Equal(t, domain.StatusHealthy, c.HealthCheck().Status)
}

func TestRefresh_FailureKeepsLastValue(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(sampleFeed))
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestCBR(server.URL)
	ctx := context.Background()
	c.refresh(ctx)
	c.refresh(ctx)

	rate, status := c.GetRate(ctx)
	assert.True(t, rate.Equal(decimal.RequireFromString("95.5")),
		"a failed refresh keeps the previous value")
	assert.Equal(t, domain.RateFresh, status,
		"the value only goes stale after twice the cache TTL")
}

func TestHealthCheck_UnhealthyWhenNeverSucceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestCBR(server.URL)
	c.refresh(context.Background())

	assert.Equal(t, domain.StatusUnhealthy, c.HealthCheck().Status)

	_, status := c.GetRate(context.Background())
	assert.Equal(t, domain.RateFallback, status)
}
