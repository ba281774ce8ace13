package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestOKXParseMessage(t *testing.T) {
	o := NewOKX("")

	frame := []byte(`{
		"arg": {"channel": "trades", "instId": "ETH-USDT"},
		"data": [
			{"instId":"ETH-USDT","tradeId":"130639474","px":"2502.15","sz":"0.4","side":"buy","ts":"1634567890123"}
		]
	}`)

	trades, err := o.ParseMessage(frame)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "okx", trade.Venue)
	assert.Equal(t, domain.PairETHUSD, trade.Pair)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("2502.15")))
	assert.True(t, trade.Volume.Equal(decimal.RequireFromString("0.4")))
	assert.Equal(t, int64(1634567890123), trade.EventTime)
}

func TestOKXParseMessage_EventFramesDropped(t *testing.T) {
	o := NewOKX("")

	trades, err := o.ParseMessage([]byte(`{"event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"}}`))
	require.NoError(t, err)
	assert.Nil(t, trades)
}
