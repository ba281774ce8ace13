package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/priceverse/priceverse/internal/domain"
)

// bufferTTL bounds how long an idle pair's buffer survives. The aggregator
// prunes by score every tick; the TTL only covers pairs that stop trading.
const bufferTTL = 5 * time.Minute

// TradeBuffer implements domain.TradeBuffer on Redis sorted sets. Trades for
// a pair live under "buffer:{pair}" scored by event time, so the buffer
// survives aggregator restarts and window reads are a single ZRANGEBYSCORE.
// Members are the JSON-encoded trade, which makes at-least-once redelivery
// of the same entry idempotent.
type TradeBuffer struct {
	rdb *redis.Client
}

// NewTradeBuffer creates a TradeBuffer backed by the given Client.
func NewTradeBuffer(c *Client) *TradeBuffer {
	return &TradeBuffer{rdb: c.Underlying()}
}

func bufferKey(pair domain.Pair) string {
	return "buffer:" + pair.String()
}

// Add inserts a trade scored by its event time.
func (tb *TradeBuffer) Add(ctx context.Context, trade domain.Trade) error {
	member, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("redis: marshal trade: %w", err)
	}

	key := bufferKey(trade.Pair)
	pipe := tb.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(trade.EventTime), Member: member})
	pipe.Expire(ctx, key, bufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: buffer add %s: %w", trade.Pair, err)
	}
	return nil
}

// Range returns the trades for pair with event time in [from, to], ascending.
func (tb *TradeBuffer) Range(ctx context.Context, pair domain.Pair, from, to int64) ([]domain.Trade, error) {
	members, err := tb.rdb.ZRangeByScore(ctx, bufferKey(pair), &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: buffer range %s: %w", pair, err)
	}

	trades := make([]domain.Trade, 0, len(members))
	for _, m := range members {
		var t domain.Trade
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			// Skip entries written by incompatible versions.
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Prune evicts all trades for pair with event time strictly below cutoff.
func (tb *TradeBuffer) Prune(ctx context.Context, pair domain.Pair, cutoff int64) (int64, error) {
	n, err := tb.rdb.ZRemRangeByScore(ctx, bufferKey(pair),
		"-inf", "("+strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: buffer prune %s: %w", pair, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TradeBuffer = (*TradeBuffer)(nil)
