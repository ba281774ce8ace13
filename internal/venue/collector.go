// Package venue implements the six exchange collectors. A shared Collector
// owns the websocket connection loop, reconnection with exponential backoff,
// and the liveness counters; per-venue adapters supply the dial target,
// subscribe payloads, and frame parsing.
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/priceverse/priceverse/internal/domain"
)

const (
	// connectTimeout bounds the websocket dial (and any handshake the
	// adapter performs before it).
	connectTimeout = 10 * time.Second

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// readWait is the read deadline; every inbound frame extends it.
	readWait = 90 * time.Second

	// baseBackoff and maxBackoff bound the reconnect schedule
	// min(2^attempts × base, max).
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second

	// defaultMaxReconnects caps automatic reconnection attempts; past it
	// the collector stays down and reports unhealthy.
	defaultMaxReconnects = 10

	// staleTradeAfter marks the collector degraded when no trade arrived
	// for this long while connected.
	staleTradeAfter = 60 * time.Second
)

// Adapter supplies the venue-specific half of a collector.
type Adapter interface {
	// Name is the venue identifier used for the log stream and stats.
	Name() string
	// Dial opens the venue websocket. Adapters with a pre-connect
	// handshake (token endpoints) perform it here under ctx's deadline.
	Dial(ctx context.Context) (*websocket.Conn, error)
	// Subscribe sends the venue's subscribe payload and consumes any
	// handshake acknowledgements the venue requires before trade flow.
	Subscribe(ctx context.Context, conn *websocket.Conn) error
	// ParseMessage converts one inbound frame into zero or more trades.
	// A nil slice with nil error means the frame carried no trades
	// (heartbeats, acks, snapshots) and is dropped silently.
	ParseMessage(frame []byte) ([]domain.Trade, error)
	// Symbols exposes the venue's pair mapping.
	Symbols() SymbolMap
}

// keepaliver is implemented by adapters that must actively ping the venue at
// an application level (beyond websocket control frames).
type keepaliver interface {
	Keepalive(ctx context.Context, conn *websocket.Conn, write writeFunc) error
}

// responder is implemented by adapters whose venue sends application-level
// pings that must be answered in-band.
type responder interface {
	Respond(frame []byte) ([]byte, bool)
}

// writeFunc serializes writes to the shared connection.
type writeFunc func(messageType int, payload []byte) error

// Stats is a snapshot of a collector's counters.
type Stats struct {
	Venue              string    `json:"venue"`
	Connected          bool      `json:"connected"`
	TradesReceived     int64     `json:"trades_received"`
	ErrorCount         int64     `json:"error_count"`
	LastTradeWallclock time.Time `json:"last_trade_wallclock"`
	ReconnectAttempts  int64     `json:"reconnect_attempts"`
}

// Collector maintains one live trade feed for a venue, emits normalized
// trades to the venue log, and recovers from disconnects without operator
// action.
type Collector struct {
	adapter Adapter
	log     domain.VenueLog
	logger  *slog.Logger

	maxReconnects int64
	breaker       *breaker

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	connected      atomic.Bool
	tradesReceived atomic.Int64
	errorCount     atomic.Int64
	reconnects     atomic.Int64
	lastTradeUnix  atomic.Int64 // wall clock, unix milliseconds
	terminallyDown atomic.Bool
}

// NewCollector creates a collector for the given adapter and venue log.
func NewCollector(adapter Adapter, log domain.VenueLog, logger *slog.Logger) *Collector {
	return &Collector{
		adapter:       adapter,
		log:           log,
		logger:        logger.With(slog.String("component", "collector"), slog.String("venue", adapter.Name())),
		maxReconnects: defaultMaxReconnects,
		breaker:       newBreaker(),
	}
}

// Name identifies the collector as "collector:{venue}".
func (c *Collector) Name() string {
	return "collector:" + c.adapter.Name()
}

// Venue returns the venue identifier.
func (c *Collector) Venue() string {
	return c.adapter.Name()
}

// Start begins the connection loop. It is idempotent while running and may
// be called again after Stop.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.terminallyDown.Store(false)
	c.reconnects.Store(0)

	go c.run(runCtx)

	c.logger.Info("collector started")
	return nil
}

// Stop requests a graceful close and waits for the run loop to exit, bounded
// by ctx.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.mu.Unlock()

	cancel()
	if conn != nil {
		// Nudge the blocked reader.
		_ = conn.Close()
	}

	select {
	case <-done:
		c.logger.Info("collector stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collector %s: stop: %w", c.adapter.Name(), ctx.Err())
	}
}

// Reconnect forces an immediate reconnect attempt, guarded by the circuit
// breaker: five consecutive failures within a minute open it for a minute.
func (c *Collector) Reconnect(ctx context.Context) error {
	now := time.Now()
	if !c.breaker.Allow(now) {
		return fmt.Errorf("collector %s: %w: circuit open", c.adapter.Name(), domain.ErrExchangeDisconnected)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	// The run loop observes the closed socket and redials; give it one
	// backoff period to come back.
	deadline := time.Now().Add(2 * baseBackoff)
	for time.Now().Before(deadline) {
		if c.connected.Load() {
			c.breaker.Success()
			return nil
		}
		select {
		case <-ctx.Done():
			c.breaker.Failure(time.Now())
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	c.breaker.Failure(time.Now())
	return fmt.Errorf("collector %s: %w", c.adapter.Name(), domain.ErrExchangeDisconnected)
}

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats {
	var last time.Time
	if ms := c.lastTradeUnix.Load(); ms > 0 {
		last = time.UnixMilli(ms).UTC()
	}
	return Stats{
		Venue:              c.adapter.Name(),
		Connected:          c.connected.Load(),
		TradesReceived:     c.tradesReceived.Load(),
		ErrorCount:         c.errorCount.Load(),
		LastTradeWallclock: last,
		ReconnectAttempts:  c.reconnects.Load(),
	}
}

// HealthCheck reports unhealthy when disconnected, degraded when no trade
// arrived within the staleness window.
func (c *Collector) HealthCheck() domain.HealthReport {
	checks := make(map[string]domain.Check)

	if !c.connected.Load() {
		msg := "disconnected"
		if c.terminallyDown.Load() {
			msg = "reconnect attempts exhausted"
		}
		checks["connection"] = domain.Check{Status: domain.StatusUnhealthy, Message: msg}
		return domain.HealthReport{Status: domain.StatusUnhealthy, Checks: checks}
	}
	checks["connection"] = domain.Check{Status: domain.StatusHealthy}

	status := domain.StatusHealthy
	lastMs := c.lastTradeUnix.Load()
	if lastMs > 0 && time.Since(time.UnixMilli(lastMs)) > staleTradeAfter {
		status = domain.StatusDegraded
		checks["trade_flow"] = domain.Check{
			Status:  domain.StatusDegraded,
			Message: fmt.Sprintf("no trades for %s", time.Since(time.UnixMilli(lastMs)).Round(time.Second)),
		}
	} else {
		checks["trade_flow"] = domain.Check{Status: domain.StatusHealthy}
	}

	return domain.HealthReport{Status: status, Checks: checks}
}

// run is the connection loop: dial, subscribe, read until failure, back off,
// repeat until cancelled or the attempt budget is exhausted.
func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		attempt := c.reconnects.Load()
		if attempt >= c.maxReconnects {
			c.terminallyDown.Store(true)
			c.logger.Error("reconnect attempts exhausted, collector staying down",
				slog.Int64("attempts", attempt))
			return
		}
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Info("reconnecting",
				slog.Int64("attempt", attempt),
				slog.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		if err := c.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			c.errorCount.Add(1)
			c.reconnects.Add(1)
			c.logger.Warn("connection lost", slog.String("error", err.Error()))
		}
	}
}

// backoffDelay computes min(2^attempt × 1s, 30s).
func backoffDelay(attempt int64) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// connectAndRead performs one full connection lifetime.
func (c *Collector) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err := c.adapter.Dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return c.write(websocket.PongMessage, []byte(appData))
	})

	subCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = c.adapter.Subscribe(subCtx, conn)
	cancel()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.connected.Store(true)
	c.reconnects.Store(0)
	c.breaker.Success()
	c.logger.Info("connected")

	// Venue-level keepalive, if the adapter needs one.
	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	if ka, ok := c.adapter.(keepaliver); ok {
		go func() {
			if err := ka.Keepalive(kaCtx, conn, c.write); err != nil && kaCtx.Err() == nil {
				c.logger.Warn("keepalive failed", slog.String("error", err.Error()))
				_ = conn.Close()
			}
		}()
	}

	return c.readLoop(ctx, conn)
}

// readLoop dispatches inbound frames until the connection drops or ctx ends.
// Parse errors never kill the connection.
func (c *Collector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	rsp, _ := c.adapter.(responder)

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		if rsp != nil {
			if reply, ok := rsp.Respond(frame); ok {
				if reply != nil {
					if err := c.write(websocket.TextMessage, reply); err != nil {
						return fmt.Errorf("control reply: %w", err)
					}
				}
				continue
			}
		}

		trades, err := c.adapter.ParseMessage(frame)
		if err != nil {
			c.errorCount.Add(1)
			c.logger.Debug("frame dropped", slog.String("error", err.Error()))
			continue
		}

		for _, trade := range trades {
			if !trade.Valid() {
				c.logger.Debug("invalid trade dropped", slog.String("pair", trade.Pair.String()))
				continue
			}
			c.emit(ctx, trade)
		}
	}
}

// emit appends a trade to the venue log and updates counters.
func (c *Collector) emit(ctx context.Context, trade domain.Trade) {
	c.tradesReceived.Add(1)
	c.lastTradeUnix.Store(time.Now().UnixMilli())

	if _, err := c.log.Append(ctx, c.adapter.Name(), trade); err != nil {
		c.errorCount.Add(1)
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("append to venue log failed",
				slog.String("pair", trade.Pair.String()),
				slog.String("error", err.Error()))
		}
	}
}

// write serializes writes to the shared connection.
func (c *Collector) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrExchangeDisconnected
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

// Compile-time interface checks.
var (
	_ domain.Lifecyclable   = (*Collector)(nil)
	_ domain.HealthReporter = (*Collector)(nil)
)
