// Package fiat provides the USD→RUB rate from the Central Bank of Russia
// daily XML feed, cached in-process with fresh/stale/fallback semantics.
package fiat

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// usdCharCode identifies the US dollar entry in the CBR valute list.
const usdCharCode = "USD"

// Config tunes the fetcher.
type Config struct {
	URL           string
	CacheTTL      time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	FallbackRate  decimal.Decimal
}

// valCurs mirrors the CBR XML daily document.
type valCurs struct {
	XMLName xml.Name `xml:"ValCurs"`
	Valutes []valute `xml:"Valute"`
}

type valute struct {
	CharCode string `xml:"CharCode"`
	Nominal  int64  `xml:"Nominal"`
	Value    string `xml:"Value"` // decimal with a comma separator
}

// CBR fetches and caches the USD→RUB rate. One background loop is the only
// writer; GetRate is a lock-protected read that never blocks on the network,
// so readers tolerate stale and fallback values without waiting.
type CBR struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu            sync.RWMutex
	rate          decimal.Decimal
	lastFetch     time.Time
	everSucceeded bool
	failures      int

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	runMu   sync.Mutex
}

// New creates the CBR fetcher.
func New(cfg Config, logger *slog.Logger) *CBR {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &CBR{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With(slog.String("component", "cbr")),
		rate:       cfg.FallbackRate,
	}
}

// Name identifies the worker for the supervisor.
func (c *CBR) Name() string { return "cbr" }

// Start fetches once immediately, then refreshes every cache TTL.
func (c *CBR) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go func() {
		defer close(c.done)

		c.refresh(runCtx)

		ticker := time.NewTicker(c.cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.refresh(runCtx)
			}
		}
	}()

	c.logger.Info("cbr fetcher started", slog.Duration("cache_ttl", c.cfg.CacheTTL))
	return nil
}

// Stop halts the refresh loop.
func (c *CBR) Stop(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	c.cancel()

	select {
	case <-c.done:
		c.logger.Info("cbr fetcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cbr: stop: %w", ctx.Err())
	}
}

// GetRate returns the current rate and its freshness. The rate is positive
// by construction: the fallback seeds it and failed fetches never clear it.
func (c *CBR) GetRate(ctx context.Context) (decimal.Decimal, domain.RateStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.everSucceeded {
		return c.rate, domain.RateFallback
	}
	if time.Since(c.lastFetch) > 2*c.cfg.CacheTTL {
		return c.rate, domain.RateStale
	}
	return c.rate, domain.RateFresh
}

// HealthCheck reports unhealthy when the source has never succeeded despite
// attempts, degraded when the cached value has gone stale.
func (c *CBR) HealthCheck() domain.HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := make(map[string]domain.Check)
	switch {
	case !c.everSucceeded && c.failures > 0:
		checks["rate"] = domain.Check{
			Status:  domain.StatusUnhealthy,
			Message: fmt.Sprintf("no successful fetch, %d failures, using fallback", c.failures),
		}
		return domain.HealthReport{Status: domain.StatusUnhealthy, Checks: checks}
	case c.everSucceeded && time.Since(c.lastFetch) > 2*c.cfg.CacheTTL:
		checks["rate"] = domain.Check{Status: domain.StatusDegraded, Message: "rate is stale"}
		return domain.HealthReport{Status: domain.StatusDegraded, Checks: checks}
	default:
		checks["rate"] = domain.Check{Status: domain.StatusHealthy}
		return domain.HealthReport{Status: domain.StatusHealthy, Checks: checks}
	}
}

// refresh fetches the rate with retries and publishes it on success. A
// failed refresh keeps the previous value: stale beats absent.
func (c *CBR) refresh(ctx context.Context) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		rate, err := c.fetch(ctx)
		if err == nil {
			c.mu.Lock()
			c.rate = rate
			c.lastFetch = time.Now()
			c.everSucceeded = true
			c.failures = 0
			c.mu.Unlock()
			c.logger.Debug("rate refreshed", slog.String("rate", rate.String()))
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			return
		}
		if attempt < c.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}

	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	c.logger.Warn("rate refresh failed",
		slog.Int("consecutive_failures", failures),
		slog.String("error", lastErr.Error()))
}

// fetch performs one HTTP round-trip and extracts the USD rate.
func (c *CBR) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cbr: request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cbr: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("cbr: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("cbr: read body: %w", err)
	}

	return ParseUSDRate(body)
}

// ParseUSDRate extracts the per-unit USD rate from a CBR daily XML document.
// Values use a comma decimal separator and may carry a nominal above one.
func ParseUSDRate(body []byte) (decimal.Decimal, error) {
	var doc valCurs
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	// The feed declares windows-1251 but serves ASCII-safe numerics; accept
	// any charset label without transcoding.
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	if err := decoder.Decode(&doc); err != nil {
		return decimal.Zero, fmt.Errorf("cbr: decode xml: %w", err)
	}

	for _, v := range doc.Valutes {
		if v.CharCode != usdCharCode {
			continue
		}
		value, err := decimal.NewFromString(strings.ReplaceAll(v.Value, ",", "."))
		if err != nil {
			return decimal.Zero, fmt.Errorf("cbr: parse value %q: %w", v.Value, err)
		}
		nominal := v.Nominal
		if nominal <= 0 {
			nominal = 1
		}
		rate := value.DivRound(decimal.NewFromInt(nominal), 8)
		if !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("cbr: non-positive rate %s", rate)
		}
		return rate, nil
	}

	return decimal.Zero, fmt.Errorf("cbr: %s not found in feed", usdCharCode)
}

// Compile-time interface checks.
var (
	_ domain.RateSource     = (*CBR)(nil)
	_ domain.Lifecyclable   = (*CBR)(nil)
	_ domain.HealthReporter = (*CBR)(nil)
)
