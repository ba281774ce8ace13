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

const defaultBybitURL = "wss://stream.bybit.com/v5/public/spot"

// Bybit streams trades on "publicTrade.{symbol}" topics with a data array of
// executions per frame.
type Bybit struct {
	url      string
	symbols  SymbolMap
	validate *validator.Validate
}

// bybitMsg is the topic envelope. Frames without a topic (subscription
// replies, pongs) are dropped.
type bybitMsg struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type bybitTrade struct {
	Time    int64  `json:"T" validate:"required,gt=0"`
	Symbol  string `json:"s" validate:"required"`
	Side    string `json:"S"`
	Volume  string `json:"v" validate:"required,numeric"`
	Price   string `json:"p" validate:"required,numeric"`
	TradeID string `json:"i"`
}

// NewBybit creates the Bybit adapter.
func NewBybit(url string) *Bybit {
	if url == "" {
		url = defaultBybitURL
	}
	return &Bybit{
		url: url,
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "BTCUSDT",
			domain.PairETHUSD: "ETHUSDT",
			domain.PairXMRUSD: "XMRUSDT",
		}),
		validate: validator.New(),
	}
}

// Name returns the venue identifier.
func (b *Bybit) Name() string { return "bybit" }

// Symbols returns the venue's pair mapping.
func (b *Bybit) Symbols() SymbolMap { return b.symbols }

// Dial opens the public spot stream.
func (b *Bybit) Dial(ctx context.Context) (*websocket.Conn, error) {
	return dialURL(ctx, b.url)
}

// Subscribe requests the publicTrade topic for every mapped symbol.
func (b *Bybit) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	args := make([]string, 0, len(b.symbols.Pairs()))
	for _, symbol := range b.symbols.Symbols() {
		args = append(args, "publicTrade."+symbol)
	}
	payload := map[string]any{"op": "subscribe", "args": args}
	if err := writeJSONTo(conn, payload); err != nil {
		return fmt.Errorf("bybit: subscribe: %w", err)
	}
	return nil
}

// ParseMessage converts a publicTrade frame into its trades.
func (b *Bybit) ParseMessage(frame []byte) ([]domain.Trade, error) {
	var msg bybitMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("bybit: decode frame: %w", err)
	}
	if !strings.HasPrefix(msg.Topic, "publicTrade.") || len(msg.Data) == 0 {
		return nil, nil
	}

	var raw []bybitTrade
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return nil, fmt.Errorf("bybit: decode trades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		if err := b.validate.Struct(&t); err != nil {
			return nil, fmt.Errorf("bybit: validate trade: %w", err)
		}
		pair, ok := b.symbols.PairFor(t.Symbol)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("bybit: parse price %q: %w", t.Price, err)
		}
		volume, err := decimal.NewFromString(t.Volume)
		if err != nil {
			return nil, fmt.Errorf("bybit: parse volume %q: %w", t.Volume, err)
		}
		trades = append(trades, domain.Trade{
			Venue:     b.Name(),
			Pair:      pair,
			Price:     price,
			Volume:    volume,
			EventTime: t.Time,
			TradeID:   t.TradeID,
		})
	}
	return trades, nil
}

// Compile-time interface check.
var _ Adapter = (*Bybit)(nil)
