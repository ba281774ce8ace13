package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestBinanceParseMessage(t *testing.T) {
	b := NewBinance("")

	frame := []byte(`{
		"stream": "btcusdt@trade",
		"data": {
			"e": "trade",
			"s": "BTCUSDT",
			"p": "50000.12",
			"q": "0.001",
			"t": 12345,
			"T": 1634567890123
		}
	}`)

	trades, err := b.ParseMessage(frame)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "binance", trade.Venue)
	assert.Equal(t, domain.PairBTCUSD, trade.Pair)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("50000.12")))
	assert.True(t, trade.Volume.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, int64(1634567890123), trade.EventTime)
	assert.Equal(t, "12345", trade.TradeID)
	assert.True(t, trade.Valid())
}

func TestBinanceParseMessage_SubscriptionReplyDropped(t *testing.T) {
	b := NewBinance("")

	trades, err := b.ParseMessage([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Nil(t, trades)
}

func TestBinanceParseMessage_UnknownSymbolDropped(t *testing.T) {
	b := NewBinance("")

	frame := []byte(`{
		"stream": "dogeusdt@trade",
		"data": {"e":"trade","s":"DOGEUSDT","p":"0.1","q":"100","T":1634567890123}
	}`)

	trades, err := b.ParseMessage(frame)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBinanceParseMessage_MalformedPrice(t *testing.T) {
	b := NewBinance("")

	frame := []byte(`{
		"stream": "btcusdt@trade",
		"data": {"e":"trade","s":"BTCUSDT","p":"not-a-number","q":"1","T":1634567890123}
	}`)

	_, err := b.ParseMessage(frame)
	assert.Error(t, err)
}

func TestBinanceSymbols(t *testing.T) {
	b := NewBinance("")

	symbol, ok := b.Symbols().SymbolFor(domain.PairBTCUSD)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)

	pair, ok := b.Symbols().PairFor("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.PairETHUSD, pair)

	_, ok = b.Symbols().PairFor("DOGEUSDT")
	assert.False(t, ok)
}
