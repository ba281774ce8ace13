package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a normalized trade event produced by a venue collector. Trades are
// ephemeral: they travel through the venue log into the aggregator's trade
// buffer and are never persisted.
type Trade struct {
	Venue     string          `json:"venue"`
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	EventTime int64           `json:"event_time"` // epoch milliseconds, venue-supplied
	TradeID   string          `json:"trade_id,omitempty"`
}

// Valid reports whether the trade satisfies the pipeline invariants:
// positive price, non-negative volume, and a plausible event time.
func (t Trade) Valid() bool {
	return t.Pair.Valid() &&
		t.Price.IsPositive() &&
		!t.Volume.IsNegative() &&
		t.EventTime > 0
}

// Time returns the trade's event time as a wall-clock instant.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.EventTime).UTC()
}
