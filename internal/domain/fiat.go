package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateStatus describes the freshness of a fiat rate value.
type RateStatus string

const (
	// RateFresh means the last successful fetch is at most twice the cache
	// TTL old.
	RateFresh RateStatus = "fresh"
	// RateStale means the last successful fetch is older than twice the
	// cache TTL.
	RateStale RateStatus = "stale"
	// RateFallback means no fetch has ever succeeded in this process and
	// the configured fallback value is in use.
	RateFallback RateStatus = "fallback"
)

// RateSource provides the USD→RUB conversion rate. Readers must tolerate
// stale and fallback values without blocking.
type RateSource interface {
	// GetRate returns the current rate and its freshness status. The rate
	// is always positive; callers decide policy on stale/fallback values.
	GetRate(ctx context.Context) (decimal.Decimal, RateStatus)
}
