package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

// chanBus hands out one feed channel per subscribed pair.
type chanBus struct {
	mu    sync.Mutex
	feeds map[domain.Pair]chan domain.PricePoint
}

func newChanBus() *chanBus {
	return &chanBus{feeds: make(map[domain.Pair]chan domain.PricePoint)}
}

func (b *chanBus) Publish(ctx context.Context, point domain.PricePoint) error {
	b.mu.Lock()
	feed, ok := b.feeds[point.Pair]
	b.mu.Unlock()
	if ok {
		feed <- point
	}
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, pair domain.Pair) (<-chan domain.PricePoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	feed := make(chan domain.PricePoint, 16)
	b.feeds[pair] = feed
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.feeds[pair] == feed {
			delete(b.feeds, pair)
			close(feed)
		}
	}()
	return feed, nil
}

func dialStreamer(t *testing.T, streamer *Streamer) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(streamer.HandleWS))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func subscribeFrame(pairs ...string) []byte {
	frame, _ := json.Marshal(Request{
		ID:      "sub-1",
		Version: "2.0",
		Service: ServicePrices,
		Method:  "streamPrices",
		Input:   mustJSON(map[string]any{"pairs": pairs}),
	})
	return frame
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func TestStreamer_ForwardsBroadcasts(t *testing.T) {
	bus := newChanBus()
	streamer := NewStreamer(bus, time.Minute, 10, slog.Default())

	conn, done := dialStreamer(t, streamer)
	defer done()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, subscribeFrame("btc-usd")))

	point := domain.PricePoint{
		Pair:      domain.PairBTCUSD,
		Price:     decimal.RequireFromString("45000"),
		EventTime: time.Now().UTC(),
		Method:    domain.MethodVWAP,
		Sources:   []string{"binance"},
		Volume:    decimal.RequireFromString("1"),
	}

	// Give the subscription a moment to establish, then publish.
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		_, ok := bus.feeds[domain.PairBTCUSD]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), point))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var out PriceOutput
	require.NoError(t, json.Unmarshal(frame, &out))
	assert.Equal(t, "btc-usd", out.Pair)
	assert.True(t, out.Price.Equal(decimal.RequireFromString("45000")))
	assert.Equal(t, point.EventTime.UnixMilli(), out.Timestamp)
}

func TestStreamer_IdleTimeoutClosesWithStreamTimeout(t *testing.T) {
	bus := newChanBus()
	streamer := NewStreamer(bus, 50*time.Millisecond, 10, slog.Default())

	conn, done := dialStreamer(t, streamer)
	defer done()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, subscribeFrame("btc-usd")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err, "the timeout arrives as a terminal error frame")

	var msg streamError
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, domain.CodeStreamTimeout, msg.Error.Code)
}

func TestStreamer_RejectsInvalidSubscription(t *testing.T) {
	bus := newChanBus()
	streamer := NewStreamer(bus, time.Minute, 10, slog.Default())

	cases := []struct {
		name  string
		frame []byte
		code  string
	}{
		{"unknown pair", subscribeFrame("doge-usd"), domain.CodeInvalidPair},
		{"no pairs", subscribeFrame(), domain.CodeInvalidParams},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, done := dialStreamer(t, streamer)
			defer done()

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, tc.frame))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, frame, err := conn.ReadMessage()
			require.NoError(t, err)

			var msg streamError
			require.NoError(t, json.Unmarshal(frame, &msg))
			assert.Equal(t, tc.code, msg.Error.Code)
		})
	}
}
