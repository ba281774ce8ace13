package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution identifies a candle interval.
type Resolution string

const (
	Resolution5Min  Resolution = "5min"
	Resolution1Hour Resolution = "1hour"
	Resolution1Day  Resolution = "1day"
)

// Resolutions lists every supported candle resolution, finest first.
func Resolutions() []Resolution {
	return []Resolution{Resolution5Min, Resolution1Hour, Resolution1Day}
}

// Valid reports whether r is a supported resolution.
func (r Resolution) Valid() bool {
	switch r {
	case Resolution5Min, Resolution1Hour, Resolution1Day:
		return true
	default:
		return false
	}
}

// Duration returns the wall-clock length of one period at this resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Resolution5Min:
		return 5 * time.Minute
	case Resolution1Hour:
		return time.Hour
	case Resolution1Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// PeriodStart floors t (in UTC) to the start of the period containing it.
func (r Resolution) PeriodStart(t time.Time) time.Time {
	return t.UTC().Truncate(r.Duration())
}

// ParseResolution validates a raw interval string.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return r, nil
}

// Candle is an OHLCV aggregate over one period of a resolution, recomputable
// from the canonical price history. Upsert key is (pair, period start).
type Candle struct {
	ID          int64            `json:"id,omitempty"`
	Pair        Pair             `json:"pair"`
	PeriodStart time.Time        `json:"period_start"`
	Open        decimal.Decimal  `json:"open"`
	High        decimal.Decimal  `json:"high"`
	Low         decimal.Decimal  `json:"low"`
	Close       decimal.Decimal  `json:"close"`
	Volume      decimal.Decimal  `json:"volume"`
	VWAP        *decimal.Decimal `json:"vwap,omitempty"`
	TradeCount  int              `json:"trade_count"`
}

// Valid reports whether the candle satisfies the persistence invariants.
func (c Candle) Valid() bool {
	if !c.Pair.Valid() || c.PeriodStart.IsZero() || c.TradeCount <= 0 || c.Volume.IsNegative() {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	if c.VWAP != nil && (c.VWAP.LessThan(c.Low) || c.VWAP.GreaterThan(c.High)) {
		return false
	}
	return true
}
