package venue

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// defaultBinanceURL is the combined-stream endpoint; subscriptions are
// encoded in the URL path, so no subscribe payload is needed.
const defaultBinanceURL = "wss://stream.binance.com:9443"

// Binance streams trades through combined streams, one "{symbol}@trade"
// stream per pair, wrapped in a {stream, data} envelope.
type Binance struct {
	baseURL  string
	symbols  SymbolMap
	validate *validator.Validate
}

// binanceMsg is the combined-stream envelope.
type binanceMsg struct {
	Stream string          `json:"stream" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

// binanceTrade is the trade payload. Numeric fields arrive as strings to
// preserve precision.
type binanceTrade struct {
	EventType string `json:"e" validate:"required"`
	Symbol    string `json:"s" validate:"required"`
	Price     string `json:"p" validate:"required,numeric"`
	Quantity  string `json:"q" validate:"required,numeric"`
	TradeID   int64  `json:"t"`
	Time      int64  `json:"T" validate:"required,gt=0"`
}

// NewBinance creates the Binance adapter. An empty baseURL selects the
// production endpoint.
func NewBinance(baseURL string) *Binance {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	return &Binance{
		baseURL: baseURL,
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "BTCUSDT",
			domain.PairETHUSD: "ETHUSDT",
			domain.PairXMRUSD: "XMRUSDT",
		}),
		validate: validator.New(),
	}
}

// Name returns the venue identifier.
func (b *Binance) Name() string { return "binance" }

// Symbols returns the venue's pair mapping.
func (b *Binance) Symbols() SymbolMap { return b.symbols }

// Dial connects to the combined stream for all mapped symbols.
func (b *Binance) Dial(ctx context.Context) (*websocket.Conn, error) {
	streams := make([]string, 0, len(b.symbols.Pairs()))
	for _, symbol := range b.symbols.Symbols() {
		streams = append(streams, strings.ToLower(symbol)+"@trade")
	}
	url := fmt.Sprintf("%s/stream?streams=%s", b.baseURL, strings.Join(streams, "/"))
	return dialURL(ctx, url)
}

// Subscribe is a no-op: combined streams subscribe via the URL.
func (b *Binance) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

// ParseMessage converts a combined-stream frame into a trade.
func (b *Binance) ParseMessage(frame []byte) ([]domain.Trade, error) {
	var msg binanceMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("binance: decode frame: %w", err)
	}
	if err := b.validate.Struct(&msg); err != nil {
		// Not a stream envelope (subscription replies etc.); drop.
		return nil, nil
	}

	var t binanceTrade
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return nil, fmt.Errorf("binance: decode trade: %w", err)
	}
	if err := b.validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("binance: validate trade: %w", err)
	}
	if t.EventType != "trade" {
		return nil, nil
	}

	pair, ok := b.symbols.PairFor(t.Symbol)
	if !ok {
		return nil, nil
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return nil, fmt.Errorf("binance: parse price %q: %w", t.Price, err)
	}
	volume, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return nil, fmt.Errorf("binance: parse quantity %q: %w", t.Quantity, err)
	}

	return []domain.Trade{{
		Venue:     b.Name(),
		Pair:      pair,
		Price:     price,
		Volume:    volume,
		EventTime: t.Time,
		TradeID:   fmt.Sprintf("%d", t.TradeID),
	}}, nil
}

// Compile-time interface check.
var _ Adapter = (*Binance)(nil)
