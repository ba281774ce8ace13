package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore. The sources column
// is a JSON-serialized string array so engines without native array types
// accept it unchanged; it is never queried inside.
type PriceHistoryStore struct {
	db   Querier
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a PriceHistoryStore backed by the given pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{db: pool, pool: pool}
}

const priceSelectCols = `id, pair, price, event_time, method, sources, volume`

func scanPriceRow(row pgx.Row) (domain.PricePoint, error) {
	var (
		p          domain.PricePoint
		price      decimal.Decimal
		volume     decimal.Decimal
		sourcesRaw string
	)
	if err := row.Scan(&p.ID, &p.Pair, &price, &p.EventTime, &p.Method, &sourcesRaw, &volume); err != nil {
		return domain.PricePoint{}, err
	}
	p.Price = price
	p.Volume = volume
	if err := json.Unmarshal([]byte(sourcesRaw), &p.Sources); err != nil {
		return domain.PricePoint{}, fmt.Errorf("decode sources: %w", err)
	}
	return p, nil
}

func scanPriceRows(rows pgx.Rows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for rows.Next() {
		p, err := scanPriceRow(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func encodeSources(sources []string) (string, error) {
	raw, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("encode sources: %w", err)
	}
	return string(raw), nil
}

// Insert persists a canonical price row.
func (s *PriceHistoryStore) Insert(ctx context.Context, point domain.PricePoint) error {
	sources, err := encodeSources(point.Sources)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO price_history (pair, price, event_time, method, sources, volume)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		point.Pair.String(), point.Price, point.EventTime.UTC(),
		point.Method, sources, point.Volume,
	)
	if err != nil {
		return domain.ErrDatabase.Wrap(fmt.Errorf("insert price %s: %w", point.Pair, err))
	}
	return nil
}

// InsertMany persists multiple rows in one batch round-trip.
func (s *PriceHistoryStore) InsertMany(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		sources, err := encodeSources(p.Sources)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO price_history (pair, price, event_time, method, sources, volume)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.Pair.String(), p.Price, p.EventTime.UTC(), p.Method, sources, p.Volume,
		)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range points {
		if _, err := br.Exec(); err != nil {
			return domain.ErrDatabase.Wrap(fmt.Errorf("insert price batch item %d: %w", i, err))
		}
	}
	return nil
}

// Latest returns the most recent row for pair, or domain.ErrNotFound.
func (s *PriceHistoryStore) Latest(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+priceSelectCols+` FROM price_history
		WHERE pair = $1 ORDER BY event_time DESC LIMIT 1`, pair.String())
	p, err := scanPriceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PricePoint{}, domain.ErrNotFound
		}
		return domain.PricePoint{}, domain.ErrDatabase.Wrap(fmt.Errorf("latest price %s: %w", pair, err))
	}
	return p, nil
}

// FirstAfter returns the earliest row at or after t for pair.
func (s *PriceHistoryStore) FirstAfter(ctx context.Context, pair domain.Pair, t time.Time) (domain.PricePoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+priceSelectCols+` FROM price_history
		WHERE pair = $1 AND event_time >= $2
		ORDER BY event_time ASC LIMIT 1`, pair.String(), t.UTC())
	p, err := scanPriceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PricePoint{}, domain.ErrNotFound
		}
		return domain.PricePoint{}, domain.ErrDatabase.Wrap(fmt.Errorf("first price after %s: %w", pair, err))
	}
	return p, nil
}

// LastBefore returns the latest row at or before t for pair.
func (s *PriceHistoryStore) LastBefore(ctx context.Context, pair domain.Pair, t time.Time) (domain.PricePoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+priceSelectCols+` FROM price_history
		WHERE pair = $1 AND event_time <= $2
		ORDER BY event_time DESC LIMIT 1`, pair.String(), t.UTC())
	p, err := scanPriceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PricePoint{}, domain.ErrNotFound
		}
		return domain.PricePoint{}, domain.ErrDatabase.Wrap(fmt.Errorf("last price before %s: %w", pair, err))
	}
	return p, nil
}

// InRange returns rows with event time in [from, to]. The limit is clamped to
// MaxRangeLimit to bound memory on large windows.
func (s *PriceHistoryStore) InRange(ctx context.Context, pair domain.Pair, from, to time.Time, opts domain.RangeOpts) ([]domain.PricePoint, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultRangeLimit
	}
	if limit > domain.MaxRangeLimit {
		limit = domain.MaxRangeLimit
	}

	order := "ASC"
	if opts.Order == domain.OrderDesc {
		order = "DESC"
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+priceSelectCols+` FROM price_history
		WHERE pair = $1 AND event_time >= $2 AND event_time <= $3
		ORDER BY event_time `+order+`
		LIMIT $4 OFFSET $5`,
		pair.String(), from.UTC(), to.UTC(), limit, opts.Offset)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("price range %s: %w", pair, err))
	}
	defer rows.Close()

	points, err := scanPriceRows(rows)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("scan price range %s: %w", pair, err))
	}
	return points, nil
}

// ListBefore returns up to limit rows older than cutoff, oldest first, for
// cold-storage archival ahead of retention deletes.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PricePoint, error) {
	if limit <= 0 || limit > domain.MaxRangeLimit {
		limit = domain.MaxRangeLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+priceSelectCols+` FROM price_history
		WHERE event_time < $1
		ORDER BY event_time ASC
		LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("list prices before: %w", err))
	}
	defer rows.Close()

	points, err := scanPriceRows(rows)
	if err != nil {
		return nil, domain.ErrDatabase.Wrap(fmt.Errorf("scan prices before: %w", err))
	}
	return points, nil
}

// DeleteOlderThan removes rows older than cutoff and returns the count.
func (s *PriceHistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM price_history WHERE event_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, domain.ErrDatabase.Wrap(fmt.Errorf("delete prices: %w", err))
	}
	return tag.RowsAffected(), nil
}

// Ping verifies database connectivity for health checks.
func (s *PriceHistoryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return domain.ErrDatabase.Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)
