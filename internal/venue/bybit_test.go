package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestBybitParseMessage(t *testing.T) {
	b := NewBybit("")

	frame := []byte(`{
		"topic": "publicTrade.BTCUSDT",
		"type": "snapshot",
		"data": [
			{"T":1634567890123,"s":"BTCUSDT","S":"Buy","v":"0.003","p":"45100.1","i":"trade-1"},
			{"T":1634567890125,"s":"BTCUSDT","S":"Sell","v":"0.002","p":"45100.0","i":"trade-2"}
		]
	}`)

	trades, err := b.ParseMessage(frame)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "bybit", trades[0].Venue)
	assert.Equal(t, domain.PairBTCUSD, trades[0].Pair)
	assert.True(t, trades[1].Price.Equal(decimal.RequireFromString("45100")))
	assert.Equal(t, "trade-2", trades[1].TradeID)
}

func TestBybitParseMessage_SubscriptionReplyDropped(t *testing.T) {
	b := NewBybit("")

	trades, err := b.ParseMessage([]byte(`{"success":true,"op":"subscribe","conn_id":"abc"}`))
	require.NoError(t, err)
	assert.Nil(t, trades)
}
