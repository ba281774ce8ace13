// Package postgres implements the domain store interfaces using pgx/v5.
// Canonical prices live in price_history; candles live in one table per
// resolution (price_history_5min, price_history_1hour, price_history_1day)
// keyed by (pair, period_start).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds PostgreSQL connection parameters.
type ClientConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      bool
	MinConns int
	MaxConns int
}

// Client wraps a pgx connection pool.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a connection pool from the given config and verifies it with a
// ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	sslMode := "disable"
	if cfg.SSL {
		sslMode = "require"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
