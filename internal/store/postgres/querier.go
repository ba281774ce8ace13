package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/priceverse/priceverse/internal/domain"
)

// Querier is the subset of pgx operations the stores need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so a store can run against the pool or inside a
// transaction unchanged.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// InTx runs fn with tx-bound stores inside a READ COMMITTED transaction,
// committing on nil and rolling back on error.
func (c *Client) InTx(ctx context.Context, fn func(prices domain.PriceHistoryStore, candles domain.CandleStore) error) error {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.ErrDatabase.Wrap(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prices := &PriceHistoryStore{db: tx, pool: c.pool}
	candles := &CandleStore{db: tx}
	if err := fn(prices, candles); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ErrDatabase.Wrap(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}
