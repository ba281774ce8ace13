package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/priceverse/priceverse/internal/domain"
)

// PriceCache implements domain.PriceCache and domain.PriceBroadcast. Each
// pair's latest canonical price is stored as a JSON value at "price:{pair}"
// with a short TTL; the same key doubles as the pub/sub channel the
// aggregator broadcasts updates on.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache with the given entry TTL.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

// PriceKey returns the cache key (and broadcast channel) for a pair.
func PriceKey(pair domain.Pair) string {
	return "price:" + pair.String()
}

// SetPrice caches the price point under its pair key.
func (pc *PriceCache) SetPrice(ctx context.Context, point domain.PricePoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("redis: marshal price %s: %w", point.Pair, err)
	}
	if err := pc.rdb.Set(ctx, PriceKey(point.Pair), payload, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", point.Pair, err)
	}
	return nil
}

// GetPrice returns the cached price for pair, or domain.ErrNotFound on miss.
func (pc *PriceCache) GetPrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	raw, err := pc.rdb.Get(ctx, PriceKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PricePoint{}, domain.ErrNotFound
		}
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}

	var point domain.PricePoint
	if err := json.Unmarshal(raw, &point); err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: decode price %s: %w", pair, err)
	}
	return point, nil
}

// Ping verifies cache connectivity.
func (pc *PriceCache) Ping(ctx context.Context) error {
	if err := pc.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Publish broadcasts a canonical price on its pair's channel.
func (pc *PriceCache) Publish(ctx context.Context, point domain.PricePoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("redis: marshal broadcast %s: %w", point.Pair, err)
	}
	if err := pc.rdb.Publish(ctx, PriceKey(point.Pair), payload).Err(); err != nil {
		return fmt.Errorf("redis: broadcast %s: %w", point.Pair, err)
	}
	return nil
}

// Subscribe returns decoded price updates for pair until ctx ends. Payloads
// that fail to decode are dropped; the pair's next tick replaces them.
func (pc *PriceCache) Subscribe(ctx context.Context, pair domain.Pair) (<-chan domain.PricePoint, error) {
	pubsub := pc.rdb.Subscribe(ctx, PriceKey(pair))

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", pair, err)
	}

	out := make(chan domain.PricePoint, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var point domain.PricePoint
				if err := json.Unmarshal([]byte(msg.Payload), &point); err != nil {
					continue
				}
				select {
				case out <- point:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.PriceCache     = (*PriceCache)(nil)
	_ domain.PriceBroadcast = (*PriceCache)(nil)
)
