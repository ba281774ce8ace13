package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MethodVWAP is the aggregation method recorded on every canonical price row.
const MethodVWAP = "vwap"

// PricePoint is a canonical aggregated price for a pair, emitted once per
// aggregation tick and immutable once written.
type PricePoint struct {
	ID        int64           `json:"id,omitempty"`
	Pair      Pair            `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	EventTime time.Time       `json:"event_time"` // aggregator wall clock at emission
	Method    string          `json:"method"`
	Sources   []string        `json:"sources"` // contributing venues, deduplicated
	Volume    decimal.Decimal `json:"volume"`  // aggregate volume over the window
}

// Valid reports whether the price point satisfies the persistence invariants.
func (p PricePoint) Valid() bool {
	return p.Pair.Valid() &&
		p.Price.IsPositive() &&
		len(p.Sources) > 0 &&
		!p.Volume.IsNegative() &&
		!p.EventTime.IsZero()
}
