package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/priceverse/priceverse/internal/domain"
)

// ServerConfig holds the bind address and boundary knobs.
type ServerConfig struct {
	Host string
	Port int

	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

// Server exposes the envelope endpoint at POST /rpc and the streaming
// endpoint at GET /rpc/stream.
type Server struct {
	httpServer *http.Server
	prices     *PricesService
	charts     *ChartsService
	healthSvc  *HealthService
	streamer   *Streamer
	limiter    domain.RateLimiter
	cfg        ServerConfig
	logger     *slog.Logger
}

// NewServer creates the RPC server with all routes registered.
func NewServer(
	cfg ServerConfig,
	prices *PricesService,
	charts *ChartsService,
	healthSvc *HealthService,
	streamer *Streamer,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	s := &Server{
		prices:    prices,
		charts:    charts,
		healthSvc: healthSvc,
		streamer:  streamer,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "rpc_server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleRPC)
	if streamer != nil {
		mux.HandleFunc("GET /rpc/stream", streamer.HandleWS)
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Name identifies the worker for the supervisor.
func (s *Server) Name() string { return "rpc_server" }

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("rpc server: listen %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("rpc server listening", slog.String("addr", s.httpServer.Addr))
	return nil
}

// Stop drains in-flight requests, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("rpc server: shutdown: %w", err)
	}
	s.logger.Info("rpc server stopped")
	return nil
}

// handleRPC decodes one envelope, applies the rate limit, and dispatches to
// the addressed service.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, fail("", domain.ErrInvalidParams.Wrap(err)))
		return
	}

	if s.limiter != nil && s.cfg.RateLimitEnabled {
		endpoint := req.Service + "." + req.Method
		key := clientIP(r) + ":" + endpoint
		result, err := s.limiter.Allow(r.Context(), key, s.cfg.RateLimitMax, s.cfg.RateLimitWindow)
		if err != nil {
			// Fail open: a broken limiter must not take the API down.
			s.logger.Warn("rate limiter unavailable, allowing request",
				slog.String("error", err.Error()))
		} else if !result.Allowed {
			w.Header().Set("Retry-After",
				strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, fail(req.ID,
				domain.ErrServiceUnavailable.WithDetails(map[string]any{
					"retryAfter": result.RetryAfter.Milliseconds(),
					"resetTime":  result.ResetTime.UTC().Format(time.RFC3339),
				})))
			return
		}
	}

	start := time.Now()
	data, err := s.dispatch(r.Context(), req)
	if err != nil {
		s.logger.Debug("rpc call failed",
			slog.String("service", req.Service),
			slog.String("method", req.Method),
			slog.String("code", domain.CodeOf(err)),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, fail(req.ID, err))
		return
	}

	s.logger.Debug("rpc call served",
		slog.String("service", req.Service),
		slog.String("method", req.Method),
		slog.Duration("took", time.Since(start)))
	writeJSON(w, http.StatusOK, ok(req.ID, data))
}

// dispatch routes by service identifier.
func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Service {
	case ServicePrices:
		return s.prices.Handle(ctx, req.Method, req.Input)
	case ServiceCharts:
		return s.charts.Handle(ctx, req.Method, req.Input)
	case ServiceHealth:
		return s.healthSvc.Handle(ctx, req.Method, req.Input)
	default:
		return nil, domain.ErrInvalidParams.Wrap(
			fmt.Errorf("unknown service %q", req.Service))
	}
}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`,
			http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// clientIP determines the caller's address from proxy headers, falling back
// to the direct remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Compile-time interface check.
var _ domain.Lifecyclable = (*Server)(nil)
