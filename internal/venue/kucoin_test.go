package venue

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestKuCoinParseMessage_Match(t *testing.T) {
	k := NewKuCoin("")

	frame := []byte(`{
		"type": "message",
		"topic": "/market/match:BTC-USDT",
		"subject": "trade.l3match",
		"data": {
			"symbol": "BTC-USDT",
			"price": "45230.5",
			"size": "0.0012",
			"tradeId": "6167b4a7",
			"time": "1634567890123456789"
		}
	}`)

	trades, err := k.ParseMessage(frame)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "kucoin", trade.Venue)
	assert.Equal(t, domain.PairBTCUSD, trade.Pair)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("45230.5")))
	assert.True(t, trade.Volume.Equal(decimal.RequireFromString("0.0012")))
	assert.Equal(t, int64(1634567890123), trade.EventTime,
		"nanosecond timestamps convert to milliseconds")
}

func TestKuCoinRespond_ServerPingGetsPong(t *testing.T) {
	k := NewKuCoin("")

	reply, handled := k.Respond([]byte(`{"id":"abc123","type":"ping"}`))
	require.True(t, handled)
	require.NotNil(t, reply)

	var pong map[string]string
	require.NoError(t, json.Unmarshal(reply, &pong))
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, "abc123", pong["id"], "pong echoes the ping id")
}

func TestKuCoinRespond_ControlFramesSwallowed(t *testing.T) {
	k := NewKuCoin("")

	for _, frame := range []string{
		`{"id":"1","type":"pong"}`,
		`{"id":"2","type":"welcome"}`,
		`{"id":"3","type":"ack"}`,
	} {
		reply, handled := k.Respond([]byte(frame))
		assert.True(t, handled, frame)
		assert.Nil(t, reply, frame)
	}
}

func TestKuCoinRespond_TradeFramePassesThrough(t *testing.T) {
	k := NewKuCoin("")

	_, handled := k.Respond([]byte(`{"type":"message","topic":"/market/match:BTC-USDT"}`))
	assert.False(t, handled)
}

func TestKuCoinParseMessage_NonTradeDropped(t *testing.T) {
	k := NewKuCoin("")

	trades, err := k.ParseMessage([]byte(`{"type":"message","topic":"/market/ticker:BTC-USDT","data":{}}`))
	require.NoError(t, err)
	assert.Nil(t, trades)
}
