// Package aggregator turns the multiplexed venue trade streams into
// canonical prices (the stream aggregator) and rolls those prices up into
// OHLCV candles on wall-clock boundaries (the OHLCV aggregator).
package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// VWAPResult is the outcome of aggregating one pair's window.
type VWAPResult struct {
	Price   decimal.Decimal
	Volume  decimal.Decimal
	Sources []string // distinct contributing venues, sorted
}

// ComputeVWAP computes the volume-weighted average price over a window of
// trades. Trades are treated as an unordered set; duplicates across venues
// are legitimate, but the source set is deduplicated. The second return is
// false when there is nothing to emit: an empty window, or one whose total
// volume is zero.
func ComputeVWAP(trades []domain.Trade) (VWAPResult, bool) {
	if len(trades) == 0 {
		return VWAPResult{}, false
	}

	weighted := decimal.Zero
	volume := decimal.Zero
	venues := make(map[string]struct{})

	for _, t := range trades {
		weighted = weighted.Add(t.Price.Mul(t.Volume))
		volume = volume.Add(t.Volume)
		venues[t.Venue] = struct{}{}
	}

	if volume.IsZero() {
		return VWAPResult{}, false
	}

	sources := make([]string, 0, len(venues))
	for v := range venues {
		sources = append(sources, v)
	}
	sort.Strings(sources)

	return VWAPResult{
		Price:   weighted.DivRound(volume, 12),
		Volume:  volume,
		Sources: sources,
	}, true
}
