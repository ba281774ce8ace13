// Package config defines the nested configuration for the priceverse daemon
// and provides loading and validation helpers. Values come from a TOML file
// and are overridden by PRICEVERSE_* environment variables using "__" as the
// nesting separator (file < environment).
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	App         AppConfig         `toml:"app"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Exchanges   ExchangesConfig   `toml:"exchanges"`
	Aggregation AggregationConfig `toml:"aggregation"`
	CBR         CBRConfig         `toml:"cbr"`
	Retention   RetentionConfig   `toml:"retention"`
	Alerts      AlertsConfig      `toml:"alerts"`
	API         APIConfig         `toml:"api"`
	Archive     ArchiveConfig     `toml:"archive"`
	LogLevel    string            `toml:"log_level"`
	Environment string            `toml:"environment"`
}

// AppConfig holds the RPC server bind address.
type AppConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Dialect               string     `toml:"dialect"`
	Host                  string     `toml:"host"`
	Port                  int        `toml:"port"`
	Database              string     `toml:"database"`
	User                  string     `toml:"user"`
	Password              string     `toml:"password"`
	SSL                   bool       `toml:"ssl"`
	SSLRejectUnauthorized bool       `toml:"ssl_reject_unauthorized"`
	Pool                  PoolConfig `toml:"pool"`
}

// PoolConfig bounds the database connection pool.
type PoolConfig struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

// RedisConfig holds connection parameters for streams, cache, and pub/sub.
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ExchangesConfig selects which venue collectors to run.
type ExchangesConfig struct {
	Enabled []string `toml:"enabled"`
}

// AggregationConfig tunes the stream aggregator.
type AggregationConfig struct {
	IntervalMs           int      `toml:"interval"`    // tick interval, milliseconds
	WindowSizeMs         int      `toml:"window_size"` // trailing VWAP window, milliseconds
	Pairs                []string `toml:"pairs"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
}

// Interval returns the tick interval as a duration.
func (a AggregationConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

// WindowSize returns the trailing window as a duration.
func (a AggregationConfig) WindowSize() time.Duration {
	return time.Duration(a.WindowSizeMs) * time.Millisecond
}

// CBRConfig tunes the fiat-rate source.
type CBRConfig struct {
	URL           string  `toml:"url"`
	CacheTTLSec   int     `toml:"cache_ttl"`
	RetryAttempts int     `toml:"retry_attempts"`
	RetryDelayMs  int     `toml:"retry_delay"`
	FallbackRate  float64 `toml:"fallback_rate"`
}

// CacheTTL returns the rate cache TTL as a duration.
func (c CBRConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// RetryDelay returns the base delay between fetch retries.
func (c CBRConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// RetentionConfig is the sweeper policy. A zero TTL keeps rows forever.
type RetentionConfig struct {
	Enabled          bool   `toml:"enabled"`
	PriceHistoryDays int    `toml:"price_history_days"`
	Candles5MinDays  int    `toml:"candles_5min_days"`
	Candles1HourDays int    `toml:"candles_1hour_days"`
	Candles1DayDays  int    `toml:"candles_1day_days"`
	CleanupSchedule  string `toml:"cleanup_schedule"` // 5-field cron
}

// AlertsConfig tunes the alert monitor and webhook sink.
type AlertsConfig struct {
	Enabled    bool            `toml:"enabled"`
	WebhookURL string          `toml:"webhook_url"`
	Thresholds AlertThresholds `toml:"thresholds"`
}

// AlertThresholds are the trip points scanned every monitor pass.
type AlertThresholds struct {
	DisconnectSec     int `toml:"disconnect_seconds"`
	ConsecutiveErrors int `toml:"consecutive_errors"`
	ScanIntervalSec   int `toml:"scan_interval_seconds"`
}

// APIConfig holds boundary knobs for the RPC surface.
type APIConfig struct {
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Cache     CacheConfig     `toml:"cache"`
	Streaming StreamingConfig `toml:"streaming"`
}

// RateLimitConfig tunes the per-client sliding-window limiter.
type RateLimitConfig struct {
	Enabled  bool `toml:"enabled"`
	Max      int  `toml:"max"`
	WindowMs int  `toml:"window"`
}

// Window returns the limiter window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// CacheConfig tunes the canonical price cache.
type CacheConfig struct {
	TTLSec      int `toml:"ttl"`
	StaleAfterS int `toml:"stale_after"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// StaleAfter returns the age beyond which a cached price is treated as a miss.
func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterS) * time.Second
}

// StreamingConfig tunes streamPrices subscriptions.
type StreamingConfig struct {
	IdleTimeoutSec int `toml:"idle_timeout"`
	MaxQueueSize   int `toml:"max_queue_size"`
}

// IdleTimeout returns the subscriber idle timeout as a duration.
func (s StreamingConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

// ArchiveConfig enables S3 cold storage of rows removed by retention.
type ArchiveConfig struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Prefix    string `toml:"prefix"`
}

// knownVenues is the closed set of supported collectors.
var knownVenues = map[string]bool{
	"binance":  true,
	"bybit":    true,
	"okx":      true,
	"kraken":   true,
	"coinbase": true,
	"kucoin":   true,
}

// Validate checks the configuration for values that would prevent startup.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: app.port %d out of range", c.App.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Pool.Min < 0 || c.Database.Pool.Max < c.Database.Pool.Min {
		return fmt.Errorf("config: database.pool min %d / max %d invalid",
			c.Database.Pool.Min, c.Database.Pool.Max)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("config: redis.host is required")
	}
	for _, v := range c.Exchanges.Enabled {
		if !knownVenues[strings.ToLower(v)] {
			return fmt.Errorf("config: unknown exchange %q", v)
		}
	}
	if c.Aggregation.IntervalMs <= 0 {
		return fmt.Errorf("config: aggregation.interval must be positive")
	}
	if c.Aggregation.WindowSizeMs <= 0 {
		return fmt.Errorf("config: aggregation.window_size must be positive")
	}
	if c.Aggregation.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("config: aggregation.max_consecutive_errors must be positive")
	}
	if c.CBR.FallbackRate <= 0 {
		return fmt.Errorf("config: cbr.fallback_rate must be positive")
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" {
		return fmt.Errorf("config: alerts.webhook_url is required when alerts are enabled")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive.bucket is required when archival is enabled")
	}
	return nil
}
