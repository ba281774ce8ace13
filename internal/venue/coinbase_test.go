package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestCoinbaseParseMessage_Match(t *testing.T) {
	c := NewCoinbase("")

	frame := []byte(`{
		"type": "match",
		"trade_id": 86326522,
		"product_id": "BTC-USD",
		"size": "0.00513192",
		"price": "45168.99",
		"time": "2025-06-01T12:00:00.123456Z"
	}`)

	trades, err := c.ParseMessage(frame)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "coinbase", trade.Venue)
	assert.Equal(t, domain.PairBTCUSD, trade.Pair)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("45168.99")))
	assert.True(t, trade.Volume.Equal(decimal.RequireFromString("0.00513192")))
	assert.Equal(t, "86326522", trade.TradeID)
}

func TestCoinbaseParseMessage_NonMatchDropped(t *testing.T) {
	c := NewCoinbase("")

	for _, frame := range []string{
		`{"type":"subscriptions","channels":[{"name":"matches"}]}`,
		`{"type":"last_match","product_id":"BTC-USD","price":"1","size":"1","time":"2025-06-01T12:00:00Z"}`,
		`{"type":"heartbeat","sequence":90}`,
	} {
		trades, err := c.ParseMessage([]byte(frame))
		require.NoError(t, err, frame)
		assert.Nil(t, trades, frame)
	}
}

func TestCoinbaseDoesNotListXMR(t *testing.T) {
	c := NewCoinbase("")

	// The venue not listing xmr-usd is a feature: the pair is simply
	// absent from the symbol map.
	_, ok := c.Symbols().SymbolFor(domain.PairXMRUSD)
	assert.False(t, ok)
	assert.Equal(t, []domain.Pair{domain.PairBTCUSD, domain.PairETHUSD}, c.Symbols().Pairs())
}
