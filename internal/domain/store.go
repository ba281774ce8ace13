package domain

import (
	"context"
	"time"
)

// Order is a sort direction for range reads.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Range read limits enforced by the repositories to bound memory.
const (
	DefaultRangeLimit = 1_000
	MaxRangeLimit     = 10_000
)

// RangeOpts parameterizes a price-history range read.
type RangeOpts struct {
	Limit  int
	Offset int
	Order  Order
}

// PriceHistoryStore persists canonical price rows.
type PriceHistoryStore interface {
	Insert(ctx context.Context, point PricePoint) error
	InsertMany(ctx context.Context, points []PricePoint) error
	Latest(ctx context.Context, pair Pair) (PricePoint, error)
	FirstAfter(ctx context.Context, pair Pair, t time.Time) (PricePoint, error)
	LastBefore(ctx context.Context, pair Pair, t time.Time) (PricePoint, error)
	// InRange returns rows with event time in [from, to]. Limit is clamped
	// to MaxRangeLimit and defaults to DefaultRangeLimit.
	InRange(ctx context.Context, pair Pair, from, to time.Time, opts RangeOpts) ([]PricePoint, error)
	// ListBefore returns up to limit rows older than cutoff, for archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PricePoint, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// OffsetPage is an offset-paginated candle result.
type OffsetPage struct {
	Candles []Candle
	Total   int
}

// CursorOpts parameterizes a keyset-paginated candle read. Cursor is the
// opaque base64 period-start boundary from a previous page.
type CursorOpts struct {
	Limit  int
	Cursor string
	From   *time.Time
	To     *time.Time
	Order  Order
}

// CursorPage is a keyset-paginated candle result.
type CursorPage struct {
	Candles        []Candle
	NextCursor     string
	PreviousCursor string
	HasMore        bool
}

// StoreTxRunner runs fn with transaction-bound stores at READ COMMITTED
// isolation, committing when fn returns nil.
type StoreTxRunner interface {
	InTx(ctx context.Context, fn func(prices PriceHistoryStore, candles CandleStore) error) error
}

// CandleStore persists OHLCV candles in one table per resolution.
type CandleStore interface {
	Upsert(ctx context.Context, res Resolution, candle Candle) error
	Latest(ctx context.Context, res Resolution, pair Pair) (Candle, error)
	Count(ctx context.Context, res Resolution, pair Pair) (int, error)
	// InRange returns candles with period start in [from, to), ascending.
	InRange(ctx context.Context, res Resolution, pair Pair, from, to time.Time) ([]Candle, error)
	GetWithOffset(ctx context.Context, res Resolution, pair Pair, limit, offset int) (OffsetPage, error)
	GetWithCursor(ctx context.Context, res Resolution, pair Pair, opts CursorOpts) (CursorPage, error)
	DeleteOlderThan(ctx context.Context, res Resolution, cutoff time.Time) (int64, error)
}
