package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix is the project prefix for environment overrides. Nested keys use
// "__" as the separator, e.g. PRICEVERSE_AGGREGATION__WINDOW_SIZE=30000.
const envPrefix = "PRICEVERSE_"

// Defaults returns the built-in configuration. Every knob has a working value
// so a minimal TOML file (database + redis hosts) is enough to start.
func Defaults() Config {
	return Config{
		App: AppConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Dialect: "postgres",
			Port:    5432,
			Pool:    PoolConfig{Min: 2, Max: 10},
		},
		Redis: RedisConfig{Port: 6379},
		Exchanges: ExchangesConfig{
			Enabled: []string{"binance", "bybit", "okx", "kraken", "coinbase", "kucoin"},
		},
		Aggregation: AggregationConfig{
			IntervalMs:           10_000,
			WindowSizeMs:         30_000,
			Pairs:                []string{"btc-usd", "eth-usd", "xmr-usd"},
			MaxConsecutiveErrors: 10,
		},
		CBR: CBRConfig{
			URL:           "https://www.cbr.ru/scripts/XML_daily.asp",
			CacheTTLSec:   3600,
			RetryAttempts: 3,
			RetryDelayMs:  5000,
			FallbackRate:  90.0,
		},
		Retention: RetentionConfig{
			Enabled:          true,
			PriceHistoryDays: 7,
			Candles5MinDays:  30,
			Candles1HourDays: 365,
			Candles1DayDays:  0,
			CleanupSchedule:  "0 3 * * *",
		},
		Alerts: AlertsConfig{
			Thresholds: AlertThresholds{
				DisconnectSec:     300,
				ConsecutiveErrors: 5,
				ScanIntervalSec:   30,
			},
		},
		API: APIConfig{
			RateLimit: RateLimitConfig{Enabled: true, Max: 100, WindowMs: 60_000},
			Cache:     CacheConfig{TTLSec: 60, StaleAfterS: 120},
			Streaming: StreamingConfig{IdleTimeoutSec: 60, MaxQueueSize: 1000},
		},
		LogLevel:    "info",
		Environment: "development",
	}
}

// Load reads the TOML file at path on top of the defaults, loads a .env file
// when present, and applies PRICEVERSE_* environment overrides. The result is
// not validated; callers invoke Config.Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from well-known PRICEVERSE_*
// variables when set. Operators use these to inject secrets and per-deploy
// knobs without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── app ──
	setStr(&cfg.App.Host, "APP__HOST")
	setInt(&cfg.App.Port, "APP__PORT")

	// ── database ──
	setStr(&cfg.Database.Dialect, "DATABASE__DIALECT")
	setStr(&cfg.Database.Host, "DATABASE__HOST")
	setInt(&cfg.Database.Port, "DATABASE__PORT")
	setStr(&cfg.Database.Database, "DATABASE__DATABASE")
	setStr(&cfg.Database.User, "DATABASE__USER")
	setStr(&cfg.Database.Password, "DATABASE__PASSWORD")
	setBool(&cfg.Database.SSL, "DATABASE__SSL")
	setBool(&cfg.Database.SSLRejectUnauthorized, "DATABASE__SSL_REJECT_UNAUTHORIZED")
	setInt(&cfg.Database.Pool.Min, "DATABASE__POOL__MIN")
	setInt(&cfg.Database.Pool.Max, "DATABASE__POOL__MAX")

	// ── redis ──
	setStr(&cfg.Redis.Host, "REDIS__HOST")
	setInt(&cfg.Redis.Port, "REDIS__PORT")
	setStr(&cfg.Redis.Password, "REDIS__PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS__DB")

	// ── exchanges ──
	setList(&cfg.Exchanges.Enabled, "EXCHANGES__ENABLED")

	// ── aggregation ──
	setInt(&cfg.Aggregation.IntervalMs, "AGGREGATION__INTERVAL")
	setInt(&cfg.Aggregation.WindowSizeMs, "AGGREGATION__WINDOW_SIZE")
	setList(&cfg.Aggregation.Pairs, "AGGREGATION__PAIRS")
	setInt(&cfg.Aggregation.MaxConsecutiveErrors, "AGGREGATION__MAX_CONSECUTIVE_ERRORS")

	// ── cbr ──
	setStr(&cfg.CBR.URL, "CBR__URL")
	setInt(&cfg.CBR.CacheTTLSec, "CBR__CACHE_TTL")
	setInt(&cfg.CBR.RetryAttempts, "CBR__RETRY_ATTEMPTS")
	setInt(&cfg.CBR.RetryDelayMs, "CBR__RETRY_DELAY")
	setFloat(&cfg.CBR.FallbackRate, "CBR__FALLBACK_RATE")

	// ── retention ──
	setBool(&cfg.Retention.Enabled, "RETENTION__ENABLED")
	setInt(&cfg.Retention.PriceHistoryDays, "RETENTION__PRICE_HISTORY_DAYS")
	setInt(&cfg.Retention.Candles5MinDays, "RETENTION__CANDLES_5MIN_DAYS")
	setInt(&cfg.Retention.Candles1HourDays, "RETENTION__CANDLES_1HOUR_DAYS")
	setInt(&cfg.Retention.Candles1DayDays, "RETENTION__CANDLES_1DAY_DAYS")
	setStr(&cfg.Retention.CleanupSchedule, "RETENTION__CLEANUP_SCHEDULE")

	// ── alerts ──
	setBool(&cfg.Alerts.Enabled, "ALERTS__ENABLED")
	setStr(&cfg.Alerts.WebhookURL, "ALERTS__WEBHOOK_URL")
	setInt(&cfg.Alerts.Thresholds.DisconnectSec, "ALERTS__THRESHOLDS__DISCONNECT_SECONDS")
	setInt(&cfg.Alerts.Thresholds.ConsecutiveErrors, "ALERTS__THRESHOLDS__CONSECUTIVE_ERRORS")
	setInt(&cfg.Alerts.Thresholds.ScanIntervalSec, "ALERTS__THRESHOLDS__SCAN_INTERVAL_SECONDS")

	// ── api ──
	setBool(&cfg.API.RateLimit.Enabled, "API__RATE_LIMIT__ENABLED")
	setInt(&cfg.API.RateLimit.Max, "API__RATE_LIMIT__MAX")
	setInt(&cfg.API.RateLimit.WindowMs, "API__RATE_LIMIT__WINDOW")
	setInt(&cfg.API.Cache.TTLSec, "API__CACHE__TTL")
	setInt(&cfg.API.Cache.StaleAfterS, "API__CACHE__STALE_AFTER")
	setInt(&cfg.API.Streaming.IdleTimeoutSec, "API__STREAMING__IDLE_TIMEOUT")
	setInt(&cfg.API.Streaming.MaxQueueSize, "API__STREAMING__MAX_QUEUE_SIZE")

	// ── archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE__ENABLED")
	setStr(&cfg.Archive.Endpoint, "ARCHIVE__ENDPOINT")
	setStr(&cfg.Archive.Region, "ARCHIVE__REGION")
	setStr(&cfg.Archive.Bucket, "ARCHIVE__BUCKET")
	setStr(&cfg.Archive.AccessKey, "ARCHIVE__ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "ARCHIVE__SECRET_KEY")
	setStr(&cfg.Archive.Prefix, "ARCHIVE__PREFIX")

	// ── top level ──
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.Environment, "ENVIRONMENT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
