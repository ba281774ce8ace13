package venue

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

const defaultKrakenURL = "wss://ws.kraken.com"

// Kraken emits trades as positional array frames rather than objects:
// [channelID, [[price, volume, time, side, orderType, misc], ...], "trade", pair].
// Object frames (events, heartbeats) are dropped.
type Kraken struct {
	url     string
	symbols SymbolMap
}

// NewKraken creates the Kraken adapter.
func NewKraken(url string) *Kraken {
	if url == "" {
		url = defaultKrakenURL
	}
	return &Kraken{
		url: url,
		symbols: NewSymbolMap(map[domain.Pair]string{
			domain.PairBTCUSD: "XBT/USD",
			domain.PairETHUSD: "ETH/USD",
			domain.PairXMRUSD: "XMR/USD",
		}),
	}
}

// Name returns the venue identifier.
func (k *Kraken) Name() string { return "kraken" }

// Symbols returns the venue's pair mapping.
func (k *Kraken) Symbols() SymbolMap { return k.symbols }

// Dial opens the public stream.
func (k *Kraken) Dial(ctx context.Context) (*websocket.Conn, error) {
	return dialURL(ctx, k.url)
}

// Subscribe requests the trade subscription for every mapped pair.
func (k *Kraken) Subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload := map[string]any{
		"event":        "subscribe",
		"pair":         k.symbols.Symbols(),
		"subscription": map[string]string{"name": "trade"},
	}
	if err := writeJSONTo(conn, payload); err != nil {
		return fmt.Errorf("kraken: subscribe: %w", err)
	}
	return nil
}

// ParseMessage converts a positional trade frame into the most recent trade
// it carries. The pair name sits in position 3, the trade list in position 1.
func (k *Kraken) ParseMessage(frame []byte) ([]domain.Trade, error) {
	// Object frames are status events and heartbeats.
	if len(frame) == 0 || frame[0] != '[' {
		return nil, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, fmt.Errorf("kraken: decode frame: %w", err)
	}
	if len(parts) < 4 {
		return nil, nil
	}

	var channel string
	if err := json.Unmarshal(parts[2], &channel); err != nil || channel != "trade" {
		return nil, nil
	}

	var symbol string
	if err := json.Unmarshal(parts[3], &symbol); err != nil {
		return nil, fmt.Errorf("kraken: decode pair: %w", err)
	}
	pair, ok := k.symbols.PairFor(symbol)
	if !ok {
		return nil, nil
	}

	// Each entry is [price, volume, time, side, orderType, misc] as strings.
	var entries [][]json.RawMessage
	if err := json.Unmarshal(parts[1], &entries); err != nil {
		return nil, fmt.Errorf("kraken: decode trade list: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// Only the most recent entry in the batch is used.
	entry := entries[len(entries)-1]
	if len(entry) < 3 {
		return nil, fmt.Errorf("kraken: short trade entry")
	}

	var priceStr, volumeStr, timeStr string
	if err := json.Unmarshal(entry[0], &priceStr); err != nil {
		return nil, fmt.Errorf("kraken: decode price: %w", err)
	}
	if err := json.Unmarshal(entry[1], &volumeStr); err != nil {
		return nil, fmt.Errorf("kraken: decode volume: %w", err)
	}
	if err := json.Unmarshal(entry[2], &timeStr); err != nil {
		return nil, fmt.Errorf("kraken: decode time: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("kraken: parse price %q: %w", priceStr, err)
	}
	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return nil, fmt.Errorf("kraken: parse volume %q: %w", volumeStr, err)
	}
	// Kraken timestamps are seconds with a fractional part.
	seconds, err := decimal.NewFromString(timeStr)
	if err != nil {
		return nil, fmt.Errorf("kraken: parse time %q: %w", timeStr, err)
	}
	eventTime := seconds.Mul(decimal.NewFromInt(1000)).IntPart()

	return []domain.Trade{{
		Venue:     k.Name(),
		Pair:      pair,
		Price:     price,
		Volume:    volume,
		EventTime: eventTime,
	}}, nil
}

// Compile-time interface check.
var _ Adapter = (*Kraken)(nil)
