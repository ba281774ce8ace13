package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

const defaultKuCoinAPIURL = "https://api.kucoin.com"

// KuCoin requires a two-phase handshake: a POST to the public bullet
// endpoint yields a token, the websocket endpoint, and the ping interval.
// The socket greets with a welcome frame before subscribing is allowed,
// acknowledges the subscription, and must be kept alive with periodic pings
// at the advertised interval.
type KuCoin struct {
	apiURL     string
	httpClient *http.Client
	symbols    SymbolMap
	validate   *validator.Validate

	pingInterval time.Duration
}

type kucoinBulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // milliseconds
		} `json:"instanceServers"`
	} `json:"data"`
}

type kucoinMsg struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type kucoinTrade struct {
	Symbol  string `json:"symbol" validate:"required"`
	Price   string `json:"price" validate:"required,numeric"`
	Size    string `json:"size" validate:"required,numeric"`
	Time    string `json:"time" validate:"required,numeric"` // nanoseconds
	TradeID string `json:"tradeId"`
}

// NewKuCoin creates the KuCoin adapter. An empty apiURL selects production.
func NewKuCoin(apiURL string) *KuCoin {
	if apiURL == "" {
		apiURL = defaultKuCoinAPIURL
	}
	return &KuCoin{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: connectTimeout},
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "BTC-USDT",
			domain.PairETHUSD: "ETH-USDT",
			domain.PairXMRUSD: "XMR-USDT",
		}),
		validate:     validator.New(),
		pingInterval: 18 * time.Second,
	}
}

// Name returns the venue identifier.
func (k *KuCoin) Name() string { return "kucoin" }

// Symbols returns the venue's pair mapping.
func (k *KuCoin) Symbols() SymbolMap { return k.symbols }

// Dial performs the bullet handshake, opens the socket at the returned
// endpoint, and consumes the welcome frame.
func (k *KuCoin) Dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, token, pingInterval, err := k.bullet(ctx)
	if err != nil {
		return nil, err
	}
	if pingInterval > 0 {
		k.pingInterval = pingInterval
	}

	url := fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, token, uuid.NewString())
	conn, err := dialURL(ctx, url)
	if err != nil {
		return nil, err
	}

	// A welcome frame must arrive before anything else.
	if err := k.expect(ctx, conn, "welcome"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// bullet fetches the websocket endpoint and token.
func (k *KuCoin) bullet(ctx context.Context) (endpoint, token string, pingInterval time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.apiURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("kucoin: bullet request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("kucoin: bullet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("kucoin: bullet status %d", resp.StatusCode)
	}

	var bullet kucoinBulletResponse
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return "", "", 0, fmt.Errorf("kucoin: decode bullet: %w", err)
	}
	if len(bullet.Data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("kucoin: bullet returned no instance servers")
	}

	server := bullet.Data.InstanceServers[0]
	return server.Endpoint, bullet.Data.Token,
		time.Duration(server.PingInterval) * time.Millisecond, nil
}

// expect reads one frame and checks its type.
func (k *KuCoin) expect(ctx context.Context, conn *websocket.Conn, msgType string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(connectTimeout)
	}
	conn.SetReadDeadline(deadline)

	_, frame, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("kucoin: waiting for %s: %w", msgType, err)
	}

	var msg kucoinMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("kucoin: decode %s: %w", msgType, err)
	}
	if msg.Type != msgType {
		return fmt.Errorf("kucoin: expected %s, got %q", msgType, msg.Type)
	}
	return nil
}

// Subscribe requests the match topic for all mapped symbols and waits for
// the acknowledgement.
func (k *KuCoin) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload := map[string]any{
		"id":             uuid.NewString(),
		"type":           "subscribe",
		"topic":          "/market/match:" + strings.Join(k.symbols.Symbols(), ","),
		"privateChannel": false,
		"response":       true,
	}
	if err := writeJSONTo(conn, payload); err != nil {
		return fmt.Errorf("kucoin: subscribe: %w", err)
	}
	return k.expect(ctx, conn, "ack")
}

// Keepalive pings the server at the advertised interval.
func (k *KuCoin) Keepalive(ctx context.Context, conn *websocket.Conn, write writeFunc) error {
	ticker := time.NewTicker(k.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ping, err := json.Marshal(map[string]string{
				"id":   uuid.NewString(),
				"type": "ping",
			})
			if err != nil {
				return fmt.Errorf("kucoin: marshal ping: %w", err)
			}
			if err := write(websocket.TextMessage, ping); err != nil {
				return fmt.Errorf("kucoin: ping: %w", err)
			}
		}
	}
}

// Respond answers the server's own pings with a pong and swallows pongs.
func (k *KuCoin) Respond(frame []byte) ([]byte, bool) {
	var msg kucoinMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, false
	}
	switch msg.Type {
	case "ping":
		reply, err := json.Marshal(map[string]string{"id": msg.ID, "type": "pong"})
		if err != nil {
			return nil, true
		}
		return reply, true
	case "pong", "welcome", "ack":
		return nil, true
	default:
		return nil, false
	}
}

// ParseMessage converts a match frame into a trade.
func (k *KuCoin) ParseMessage(frame []byte) ([]domain.Trade, error) {
	var msg kucoinMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kucoin: decode frame: %w", err)
	}
	if msg.Type != "message" || !strings.HasPrefix(msg.Topic, "/market/match:") {
		return nil, nil
	}

	var t kucoinTrade
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return nil, fmt.Errorf("kucoin: decode trade: %w", err)
	}
	if err := k.validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("kucoin: validate trade: %w", err)
	}

	pair, ok := k.symbols.PairFor(t.Symbol)
	if !ok {
		return nil, nil
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return nil, fmt.Errorf("kucoin: parse price %q: %w", t.Price, err)
	}
	volume, err := decimal.NewFromString(t.Size)
	if err != nil {
		return nil, fmt.Errorf("kucoin: parse size %q: %w", t.Size, err)
	}
	ns, err := strconv.ParseInt(t.Time, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kucoin: parse time %q: %w", t.Time, err)
	}

	return []domain.Trade{{
		Venue:     k.Name(),
		Pair:      pair,
		Price:     price,
		Volume:    volume,
		EventTime: ns / int64(time.Millisecond),
		TradeID:   t.TradeID,
	}}, nil
}

// Compile-time interface checks.
var (
	_ Adapter    = (*KuCoin)(nil)
	_ keepaliver = (*KuCoin)(nil)
	_ responder  = (*KuCoin)(nil)
)
