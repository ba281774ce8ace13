package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// logMaxLen is the approximate per-venue stream length, enforced via
// XADD MAXLEN ~. Trades only need to survive until the aggregator's next
// read, so the trim is generous.
const logMaxLen int64 = 10_000

// VenueLog implements domain.VenueLog on Redis streams. Each venue gets its
// own stream "trades:{venue}"; all aggregator instances share one consumer
// group, so delivery is per-venue FIFO and at-least-once.
type VenueLog struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewVenueLog creates a VenueLog backed by the given Client.
func NewVenueLog(c *Client, logger *slog.Logger) *VenueLog {
	return &VenueLog{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "venue_log")),
	}
}

func streamKey(venue string) string {
	return "trades:" + venue
}

// Append writes a normalized trade to the venue's stream.
func (vl *VenueLog) Append(ctx context.Context, venue string, trade domain.Trade) (string, error) {
	id, err := vl.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(venue),
		MaxLen: logMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"pair":       trade.Pair.String(),
			"price":      trade.Price.String(),
			"volume":     trade.Volume.String(),
			"event_time": strconv.FormatInt(trade.EventTime, 10),
			"trade_id":   trade.TradeID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: append %s: %w", venue, err)
	}
	return id, nil
}

// CreateGroup idempotently creates the consumer group, creating the stream
// when it does not exist yet. A pre-existing group is not an error.
func (vl *VenueLog) CreateGroup(ctx context.Context, venue, group string) error {
	err := vl.rdb.XGroupCreateMkStream(ctx, streamKey(venue), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s/%s: %w", venue, group, err)
	}
	return nil
}

// ReadGroup reads up to count entries for the consumer, blocking up to block.
// A block timeout yields an empty slice, not an error, so shutdown is never
// stuck waiting for traffic.
func (vl *VenueLog) ReadGroup(ctx context.Context, venue, group, consumer string, count int64, block time.Duration) ([]domain.StreamEntry, error) {
	streams, err := vl.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey(venue), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s: %w", venue, err)
	}

	var entries []domain.StreamEntry
	for _, s := range streams {
		for _, msg := range s.Messages {
			trade, err := tradeFromValues(venue, msg.Values)
			if err != nil {
				// A malformed entry would be redelivered forever; ack
				// it here and drop it.
				vl.logger.Warn("malformed log entry dropped",
					slog.String("venue", venue),
					slog.String("entry", msg.ID),
					slog.String("error", err.Error()))
				_ = vl.rdb.XAck(ctx, streamKey(venue), group, msg.ID).Err()
				continue
			}
			entries = append(entries, domain.StreamEntry{ID: msg.ID, Trade: trade})
		}
	}
	return entries, nil
}

// Ack acknowledges a delivered entry in the consumer group.
func (vl *VenueLog) Ack(ctx context.Context, venue, group, id string) error {
	if err := vl.rdb.XAck(ctx, streamKey(venue), group, id).Err(); err != nil {
		return fmt.Errorf("redis: ack %s %s: %w", venue, id, err)
	}
	return nil
}

// tradeFromValues reconstructs a Trade from stream entry fields.
func tradeFromValues(venue string, values map[string]interface{}) (domain.Trade, error) {
	get := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}

	pair, err := domain.ParsePair(get("pair"))
	if err != nil {
		return domain.Trade{}, err
	}
	price, err := decimal.NewFromString(get("price"))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := decimal.NewFromString(get("volume"))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse volume: %w", err)
	}
	eventTime, err := strconv.ParseInt(get("event_time"), 10, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse event_time: %w", err)
	}

	return domain.Trade{
		Venue:     venue,
		Pair:      pair,
		Price:     price,
		Volume:    volume,
		EventTime: eventTime,
		TradeID:   get("trade_id"),
	}, nil
}

// Compile-time interface check.
var _ domain.VenueLog = (*VenueLog)(nil)
