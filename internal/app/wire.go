package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/aggregator"
	"github.com/priceverse/priceverse/internal/alert"
	s3blob "github.com/priceverse/priceverse/internal/blob/s3"
	"github.com/priceverse/priceverse/internal/cache/redis"
	"github.com/priceverse/priceverse/internal/config"
	"github.com/priceverse/priceverse/internal/domain"
	"github.com/priceverse/priceverse/internal/fiat"
	"github.com/priceverse/priceverse/internal/health"
	"github.com/priceverse/priceverse/internal/retention"
	"github.com/priceverse/priceverse/internal/rpc"
	"github.com/priceverse/priceverse/internal/schedule"
	"github.com/priceverse/priceverse/internal/store/postgres"
	"github.com/priceverse/priceverse/internal/supervisor"
	"github.com/priceverse/priceverse/internal/venue"
)

// Stop priorities encode the mandated shutdown sequence: OHLCV roll-ups (the
// scheduler) first, then the stream aggregator, collectors, the fiat source,
// and transports last.
const (
	stopScheduler  = 10
	stopAggregator = 20
	stopCollectors = 30
	stopMonitor    = 35
	stopFiat       = 40
	stopTransport  = 50
)

// Dependencies bundles everything App needs to run.
type Dependencies struct {
	Supervisor *supervisor.Supervisor
	Probe      *health.Probe
}

// Wire constructs every concrete dependency from the configuration and
// returns it with a cleanup function releasing connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSL:      cfg.Database.SSL,
		MinConns: cfg.Database.Pool.Min,
		MaxConns: cfg.Database.Pool.Max,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if err := pgClient.RunMigrations(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
	}

	priceStore := postgres.NewPriceHistoryStore(pgClient.Pool())
	candleStore := postgres.NewCandleStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	venueLog := redis.NewVenueLog(redisClient, logger)
	tradeBuffer := redis.NewTradeBuffer(redisClient)
	priceCache := redis.NewPriceCache(redisClient, cfg.API.Cache.TTL())
	rateLimiter := redis.NewRateLimiter(redisClient)

	// --- Fiat rate ---
	cbr := fiat.New(fiat.Config{
		URL:           cfg.CBR.URL,
		CacheTTL:      cfg.CBR.CacheTTL(),
		RetryAttempts: cfg.CBR.RetryAttempts,
		RetryDelay:    cfg.CBR.RetryDelay(),
		FallbackRate:  decimal.NewFromFloat(cfg.CBR.FallbackRate),
	}, logger)

	// --- Collectors ---
	var collectors []*venue.Collector
	for _, name := range cfg.Exchanges.Enabled {
		adapter, err := venue.NewAdapter(name)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		collectors = append(collectors, venue.NewCollector(adapter, venueLog, logger))
	}

	// --- Stream aggregator ---
	pairs := make([]domain.Pair, 0, len(cfg.Aggregation.Pairs))
	for _, raw := range cfg.Aggregation.Pairs {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: aggregation pair: %w", err)
		}
		if !pair.Base() {
			cleanup()
			return nil, nil, fmt.Errorf("wire: aggregation pair %s is not venue-fed", pair)
		}
		pairs = append(pairs, pair)
	}

	stream := aggregator.NewStream(
		venueLog, tradeBuffer, priceStore, priceCache, priceCache, cbr,
		aggregator.StreamConfig{
			Venues:               cfg.Exchanges.Enabled,
			Pairs:                pairs,
			Interval:             cfg.Aggregation.Interval(),
			Window:               cfg.Aggregation.WindowSize(),
			MaxConsecutiveErrors: cfg.Aggregation.MaxConsecutiveErrors,
		},
		logger,
	)

	// --- Scheduler: OHLCV roll-ups + retention ---
	registry := schedule.NewRegistry(logger)

	ohlcv := aggregator.NewOHLCV(pgClient, domain.AllPairs(), logger)
	if err := ohlcv.Register(registry); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ohlcv schedules: %w", err)
	}

	if cfg.Retention.Enabled {
		var archiver retention.ArchiveWriter
		if cfg.Archive.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:  cfg.Archive.Endpoint,
				Region:    cfg.Archive.Region,
				Bucket:    cfg.Archive.Bucket,
				AccessKey: cfg.Archive.AccessKey,
				SecretKey: cfg.Archive.SecretKey,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			archiver = s3blob.NewWriter(s3Client)
		}

		sweeper := retention.NewSweeper(priceStore, candleStore, retention.Policy{
			PriceHistoryDays: cfg.Retention.PriceHistoryDays,
			Candles5MinDays:  cfg.Retention.Candles5MinDays,
			Candles1HourDays: cfg.Retention.Candles1HourDays,
			Candles1DayDays:  cfg.Retention.Candles1DayDays,
			Schedule:         cfg.Retention.CleanupSchedule,
		}, archiver, cfg.Archive.Prefix, logger)
		if err := sweeper.Register(registry); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: retention schedule: %w", err)
		}
	}

	// --- Health ---
	reporters := []domain.HealthReporter{stream, ohlcv, cbr}
	for _, c := range collectors {
		reporters = append(reporters, c)
	}
	probe := health.NewProbe(Version, priceStore, priceCache, stream, reporters)

	// --- RPC surface ---
	pricesSvc := rpc.NewPricesService(priceCache, priceStore, cfg.API.Cache.StaleAfter())
	chartsSvc := rpc.NewChartsService(candleStore)
	healthSvc := rpc.NewHealthService(probe)
	streamer := rpc.NewStreamer(priceCache, cfg.API.Streaming.IdleTimeout(),
		cfg.API.Streaming.MaxQueueSize, logger)

	server := rpc.NewServer(rpc.ServerConfig{
		Host:             cfg.App.Host,
		Port:             cfg.App.Port,
		RateLimitEnabled: cfg.API.RateLimit.Enabled,
		RateLimitMax:     cfg.API.RateLimit.Max,
		RateLimitWindow:  cfg.API.RateLimit.Window(),
	}, pricesSvc, chartsSvc, healthSvc, streamer, rateLimiter, logger)

	// --- Supervisor: start order is dependency order, stop priorities
	// encode the mandated shutdown sequence. ---
	sup := supervisor.New(logger)
	sup.AddWithStopPriority(cbr, stopFiat)
	sup.AddWithStopPriority(stream, stopAggregator)
	sup.AddWithStopPriority(registry, stopScheduler)
	for _, c := range collectors {
		sup.AddWithStopPriority(c, stopCollectors)
	}
	if cfg.Alerts.Enabled {
		states := make([]alert.CollectorState, 0, len(collectors))
		for _, c := range collectors {
			states = append(states, c)
		}
		monitor := alert.NewMonitor(states, stream, cbr,
			alert.NewWebhookSink(cfg.Alerts.WebhookURL),
			alert.Thresholds{
				Disconnect:        time.Duration(cfg.Alerts.Thresholds.DisconnectSec) * time.Second,
				ConsecutiveErrors: int64(cfg.Alerts.Thresholds.ConsecutiveErrors),
				ScanInterval:      time.Duration(cfg.Alerts.Thresholds.ScanIntervalSec) * time.Second,
			},
			"priceverse", cfg.Environment, logger)
		sup.AddWithStopPriority(monitor, stopMonitor)
	}
	sup.AddWithStopPriority(server, stopTransport)

	return &Dependencies{Supervisor: sup, Probe: probe}, cleanup, nil
}
