package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

const defaultCoinbaseURL = "wss://ws-feed.exchange.coinbase.com"

// Coinbase streams matches on the "matches" channel. Only frames with
// type "match" carry executed trades; the venue does not list xmr-usd, so
// that pair is simply absent from the map.
type Coinbase struct {
	url      string
	symbols  SymbolMap
	validate *validator.Validate
}

type coinbaseMatch struct {
	Type      string `json:"type" validate:"required"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
	TradeID   int64  `json:"trade_id"`
}

// NewCoinbase creates the Coinbase adapter.
func NewCoinbase(url string) *Coinbase {
	if url == "" {
		url = defaultCoinbaseURL
	}
	return &Coinbase{
		url: url,
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "BTC-USD",
			domain.PairETHUSD: "ETH-USD",
		}),
		validate: validator.New(),
	}
}

// Name returns the venue identifier.
func (c *Coinbase) Name() string { return "coinbase" }

// Symbols returns the venue's pair mapping.
func (c *Coinbase) Symbols() SymbolMap { return c.symbols }

// Dial opens the exchange feed.
func (c *Coinbase) Dial(ctx context.Context) (*websocket.Conn, error) {
	return dialURL(ctx, c.url)
}

// Subscribe requests the matches channel for every mapped product.
func (c *Coinbase) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload := map[string]any{
		"type":        "subscribe",
		"product_ids": c.symbols.Symbols(),
		"channels":    []string{"matches"},
	}
	if err := writeJSONTo(conn, payload); err != nil {
		return fmt.Errorf("coinbase: subscribe: %w", err)
	}
	return nil
}

// ParseMessage converts a match frame into a trade. Non-match frames
// (subscriptions, last_match replays, heartbeats) are dropped.
func (c *Coinbase) ParseMessage(frame []byte) ([]domain.Trade, error) {
	var m coinbaseMatch
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, fmt.Errorf("coinbase: decode frame: %w", err)
	}
	if m.Type != "match" {
		return nil, nil
	}

	pair, ok := c.symbols.PairFor(m.ProductID)
	if !ok {
		return nil, nil
	}

	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return nil, fmt.Errorf("coinbase: parse price %q: %w", m.Price, err)
	}
	volume, err := decimal.NewFromString(m.Size)
	if err != nil {
		return nil, fmt.Errorf("coinbase: parse size %q: %w", m.Size, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return nil, fmt.Errorf("coinbase: parse time %q: %w", m.Time, err)
	}

	return []domain.Trade{{
		Venue:     c.Name(),
		Pair:      pair,
		Price:     price,
		Volume:    volume,
		EventTime: ts.UnixMilli(),
		TradeID:   fmt.Sprintf("%d", m.TradeID),
	}}, nil
}

// Compile-time interface check.
var _ Adapter = (*Coinbase)(nil)
