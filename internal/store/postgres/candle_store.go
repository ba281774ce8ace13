package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// CandleStore implements domain.CandleStore over one table per resolution.
type CandleStore struct {
	db Querier
}

// NewCandleStore creates a CandleStore backed by the given pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{db: pool}
}

// tableFor maps a resolution to its candle table. Resolutions are a closed
// set validated at the boundary, so an unknown value is a programming error.
func tableFor(res domain.Resolution) (string, error) {
	switch res {
	case domain.Resolution5Min:
		return "price_history_5min", nil
	case domain.Resolution1Hour:
		return "price_history_1hour", nil
	case domain.Resolution1Day:
		return "price_history_1day", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidInterval, res)
	}
}

const candleSelectCols = `id, pair, period_start, open, high, low, close, volume, vwap, trade_count`

func scanCandleRow(row pgx.Row) (domain.Candle, error) {
	var (
		c    domain.Candle
		vwap *decimal.Decimal
	)
	if err := row.Scan(&c.ID, &c.Pair, &c.PeriodStart,
		&c.Open, &c.High, &c.Low, &c.Close,
		&c.Volume, &vwap, &c.TradeCount); err != nil {
		return domain.Candle{}, err
	}
	c.VWAP = vwap
	return c, nil
}

func scanCandleRows(rows pgx.Rows) ([]domain.Candle, error) {
	var candles []domain.Candle
	for rows.Next() {
		c, err := scanCandleRow(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Upsert writes a candle, replacing any existing row for the same
// (pair, period_start). Intentional recomputes are last-writer-wins.
func (s *CandleStore) Upsert(ctx context.Context, res domain.Resolution, candle domain.Candle) error {
	table, err := tableFor(res)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO `+table+` (pair, period_start, open, high, low, close, volume, vwap, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pair, period_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap,
			trade_count = EXCLUDED.trade_count`,
		candle.Pair.String(), candle.PeriodStart.UTC(),
		candle.Open, candle.High, candle.Low, candle.Close,
		candle.Volume, candle.VWAP, candle.TradeCount,
	)
	if err != nil {
		return domain.ErrDatabase.Wrap(fmt.Errorf("upsert candle %s %s: %w", res, candle.Pair, err))
	}
	return nil
}

// Latest returns the most recent candle for pair, or domain.ErrNotFound.
func (s *CandleStore) Latest(ctx context.Context, res domain.Resolution, pair domain.Pair) (domain.Candle, error) {
	table, err := tableFor(res)
	if err != nil {
		return domain.Candle{}, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT `+candleSelectCols+` FROM `+table+`
		WHERE pair = $1 ORDER BY period_start DESC LIMIT 1`, pair.String())
	c, err := scanCandleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Candle{}, domain.ErrNotFound
		}
		return domain.Candle{}, domain.ErrDatabase.Wrap(fmt.Errorf("latest candle %s %s: %w", res, pair, err))
	}
	return c, nil
}

// Count returns the number of candles stored for pair.
func (s *CandleStore) Count(ctx context.Context, res domain.Resolution, pair domain.Pair) (int, error) {
	table, err := tableFor(res)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE pair = $1`, pair.String()).Scan(&count)
	if err != nil {
		return 0, domain.ErrDatabase.Wrap(fmt.Errorf("count candles %s %s: %w", res, pair, err))
	}
	return count, nil
}

// InRange returns candles with period start in [from, to), ascending.
func (s *CandleStore) InRange(ctx context.Context, res domain.Resolution, pair domain.Pair, from, to time.Time) ([]domain.Candle, error) {
	table, err := tableFor(res)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+candleSelectCols+` FROM `+table+`
		WHERE pair = $1 AND period_start >= $2 AND period_start < $3
		ORDER BY period_start ASC
		LIMIT $4`,
		pair.String(), from.UTC(), to.UTC(), domain.MaxRangeLimit)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("candle range %s %s: %w", res, pair, err))
	}
	defer rows.Close()

	candles, err := scanCandleRows(rows)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("scan candle range %s %s: %w", res, pair, err))
	}
	return candles, nil
}

// GetWithOffset returns an offset-paginated page plus the total row count.
func (s *CandleStore) GetWithOffset(ctx context.Context, res domain.Resolution, pair domain.Pair, limit, offset int) (domain.OffsetPage, error) {
	table, err := tableFor(res)
	if err != nil {
		return domain.OffsetPage{}, err
	}
	if limit <= 0 {
		limit = domain.DefaultRangeLimit
	}
	if limit > domain.MaxRangeLimit {
		limit = domain.MaxRangeLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE pair = $1`, pair.String()).Scan(&total)
	if err != nil {
		return domain.OffsetPage{}, domain.ErrDatabase.Wrap(fmt.Errorf("count candles %s %s: %w", res, pair, err))
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+candleSelectCols+` FROM `+table+`
		WHERE pair = $1
		ORDER BY period_start DESC
		LIMIT $2 OFFSET $3`, pair.String(), limit, offset)
	if err != nil {
		return domain.OffsetPage{}, domain.ErrDatabase.Wrap(fmt.Errorf("candle page %s %s: %w", res, pair, err))
	}
	defer rows.Close()

	candles, err := scanCandleRows(rows)
	if err != nil {
		return domain.OffsetPage{}, domain.ErrDatabase.Wrap(fmt.Errorf("scan candle page %s %s: %w", res, pair, err))
	}

	return domain.OffsetPage{Candles: candles, Total: total}, nil
}

// GetWithCursor returns a keyset-paginated page. The cursor is the period
// start of the page's first row (inclusive boundary); limit+1 rows are
// fetched to detect whether more pages exist, and the extra row's period
// start becomes the next cursor.
func (s *CandleStore) GetWithCursor(ctx context.Context, res domain.Resolution, pair domain.Pair, opts domain.CursorOpts) (domain.CursorPage, error) {
	table, err := tableFor(res)
	if err != nil {
		return domain.CursorPage{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultRangeLimit
	}
	if limit > domain.MaxRangeLimit {
		limit = domain.MaxRangeLimit
	}

	order := opts.Order
	if order == "" {
		order = domain.OrderDesc
	}

	query := `SELECT ` + candleSelectCols + ` FROM ` + table + ` WHERE pair = $1`
	args := []any{pair.String()}
	argIdx := 2

	if opts.From != nil {
		query += fmt.Sprintf(" AND period_start >= $%d", argIdx)
		args = append(args, opts.From.UTC())
		argIdx++
	}
	if opts.To != nil {
		query += fmt.Sprintf(" AND period_start <= $%d", argIdx)
		args = append(args, opts.To.UTC())
		argIdx++
	}
	if opts.Cursor != "" {
		boundary, err := DecodeCursor(opts.Cursor)
		if err != nil {
			return domain.CursorPage{}, err
		}
		cmp := "<="
		if order == domain.OrderAsc {
			cmp = ">="
		}
		query += fmt.Sprintf(" AND period_start %s $%d", cmp, argIdx)
		args = append(args, boundary)
		argIdx++
	}

	dir := "DESC"
	if order == domain.OrderAsc {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY period_start %s LIMIT $%d", dir, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage{}, domain.ErrDatabase.Wrap(fmt.Errorf("candle cursor page %s %s: %w", res, pair, err))
	}
	defer rows.Close()

	candles, err := scanCandleRows(rows)
	if err != nil {
		return domain.CursorPage{}, domain.ErrDatabase.Wrap(fmt.Errorf("scan candle cursor page %s %s: %w", res, pair, err))
	}

	page := domain.CursorPage{}
	if len(candles) > limit {
		page.HasMore = true
		page.NextCursor = EncodeCursor(candles[limit].PeriodStart)
		candles = candles[:limit]
	}
	page.Candles = candles

	if opts.Cursor != "" && len(candles) > 0 {
		page.PreviousCursor = EncodeCursor(candles[0].PeriodStart)
	}

	return page, nil
}

// DeleteOlderThan removes candles with period start older than cutoff.
func (s *CandleStore) DeleteOlderThan(ctx context.Context, res domain.Resolution, cutoff time.Time) (int64, error) {
	table, err := tableFor(res)
	if err != nil {
		return 0, err
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM `+table+` WHERE period_start < $1`, cutoff.UTC())
	if err != nil {
		return 0, domain.ErrDatabase.Wrap(fmt.Errorf("delete candles %s: %w", res, err))
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CandleStore = (*CandleStore)(nil)
