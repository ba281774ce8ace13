package venue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

const defaultOKXURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKX streams trades on the "trades" channel, addressed by instrument ID in
// the arg envelope.
type OKX struct {
	url      string
	symbols  SymbolMap
	validate *validator.Validate
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxMsg struct {
	Arg   okxArg          `json:"arg"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type okxTrade struct {
	InstID  string `json:"instId" validate:"required"`
	Price   string `json:"px" validate:"required,numeric"`
	Size    string `json:"sz" validate:"required,numeric"`
	Time    string `json:"ts" validate:"required,numeric"`
	TradeID string `json:"tradeId"`
}

// NewOKX creates the OKX adapter.
func NewOKX(url string) *OKX {
	if url == "" {
		url = defaultOKXURL
	}
	return &OKX{
		url: url,
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "BTC-USDT",
			domain.PairETHUSD: "ETH-USDT",
			domain.PairXMRUSD: "XMR-USDT",
		}),
		validate: validator.New(),
	}
}

// Name returns the venue identifier.
func (o *OKX) Name() string { return "okx" }

// Symbols returns the venue's pair mapping.
func (o *OKX) Symbols() SymbolMap { return o.symbols }

// Dial opens the public stream.
func (o *OKX) Dial(ctx context.Context) (*websocket.Conn, error) {
	return dialURL(ctx, o.url)
}

// Subscribe requests the trades channel for every mapped instrument.
func (o *OKX) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	args := make([]okxArg, 0, len(o.symbols.Pairs()))
	for _, symbol := range o.symbols.Symbols() {
		args = append(args, okxArg{Channel: "trades", InstID: symbol})
	}
	payload := map[string]any{"op": "subscribe", "args": args}
	if err := writeJSONTo(conn, payload); err != nil {
		return fmt.Errorf("okx: subscribe: %w", err)
	}
	return nil
}

// ParseMessage converts a trades-channel frame into its trades.
func (o *OKX) ParseMessage(frame []byte) ([]domain.Trade, error) {
	var msg okxMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("okx: decode frame: %w", err)
	}
	// Subscription acks and errors carry an event field, data frames do not.
	if msg.Event != "" || msg.Arg.Channel != "trades" || len(msg.Data) == 0 {
		return nil, nil
	}

	var raw []okxTrade
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return nil, fmt.Errorf("okx: decode trades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		if err := o.validate.Struct(&t); err != nil {
			return nil, fmt.Errorf("okx: validate trade: %w", err)
		}
		pair, ok := o.symbols.PairFor(t.InstID)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("okx: parse price %q: %w", t.Price, err)
		}
		volume, err := decimal.NewFromString(t.Size)
		if err != nil {
			return nil, fmt.Errorf("okx: parse size %q: %w", t.Size, err)
		}
		ts, err := strconv.ParseInt(t.Time, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("okx: parse timestamp %q: %w", t.Time, err)
		}
		trades = append(trades, domain.Trade{
			Venue:     o.Name(),
			Pair:      pair,
			Price:     price,
			Volume:    volume,
			EventTime: ts,
			TradeID:   t.TradeID,
		})
	}
	return trades, nil
}

// Compile-time interface check.
var _ Adapter = (*OKX)(nil)
