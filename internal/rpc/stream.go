package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/priceverse/priceverse/internal/domain"
)

const (
	// streamWriteWait bounds each frame write to a subscriber.
	streamWriteWait = 10 * time.Second

	// defaultIdleTimeout closes a subscription that has seen no message.
	defaultIdleTimeout = 60 * time.Second

	// defaultQueueSize bounds the per-subscriber queue; past it the
	// oldest message is dropped and a warning logged.
	defaultQueueSize = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Streamer serves streamPrices subscriptions over websocket. Each subscriber
// sends one envelope naming the pairs, then receives the canonical price
// broadcasts re-published by the aggregator.
type Streamer struct {
	bus         domain.PriceBroadcast
	idleTimeout time.Duration
	queueSize   int
	logger      *slog.Logger
}

// NewStreamer creates the price streamer.
func NewStreamer(bus domain.PriceBroadcast, idleTimeout time.Duration, queueSize int, logger *slog.Logger) *Streamer {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Streamer{
		bus:         bus,
		idleTimeout: idleTimeout,
		queueSize:   queueSize,
		logger:      logger.With(slog.String("component", "price_streamer")),
	}
}

type streamPricesInput struct {
	Pairs []string `json:"pairs"`
}

// streamError is the terminal frame sent before closing a subscription.
type streamError struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// HandleWS upgrades the connection and runs one subscription to completion.
func (s *Streamer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	pairs, req, err := s.readSubscribe(conn)
	if err != nil {
		s.writeError(conn, "", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Watch for the client hanging up; any read after the subscribe
	// request only serves abort detection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.stream(ctx, conn, pairs)
	if err != nil {
		s.writeError(conn, req.ID, err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWriteWait))
}

// readSubscribe consumes and validates the initial envelope.
func (s *Streamer) readSubscribe(conn *websocket.Conn) ([]domain.Pair, Request, error) {
	conn.SetReadDeadline(time.Now().Add(streamWriteWait))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, Request{}, domain.ErrStreamAborted.Wrap(err)
	}
	conn.SetReadDeadline(time.Time{})

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, Request{}, domain.ErrInvalidParams.Wrap(err)
	}
	if req.Service != ServicePrices || req.Method != "streamPrices" {
		return nil, Request{}, domain.ErrInvalidParams.Wrap(
			fmt.Errorf("expected %s.streamPrices", ServicePrices))
	}

	var in streamPricesInput
	if err := decodeInput(req.Input, &in); err != nil {
		return nil, Request{}, err
	}
	if len(in.Pairs) == 0 {
		return nil, Request{}, domain.ErrInvalidParams.Wrap(fmt.Errorf("pairs must not be empty"))
	}

	pairs := make([]domain.Pair, 0, len(in.Pairs))
	for _, raw := range in.Pairs {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return nil, Request{}, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, req, nil
}

// stream subscribes to each pair's broadcast and forwards updates until the
// subscriber hangs up, the context ends, or the idle timer fires.
func (s *Streamer) stream(ctx context.Context, conn *websocket.Conn, pairs []domain.Pair) error {
	queue := make(chan domain.PricePoint, s.queueSize)

	for _, pair := range pairs {
		sub, err := s.bus.Subscribe(ctx, pair)
		if err != nil {
			return domain.ErrInternal.Wrap(err)
		}
		go func(pair domain.Pair, sub <-chan domain.PricePoint) {
			for point := range sub {
				select {
				case queue <- point:
				default:
					// Queue full: drop the oldest entry to keep the
					// stream bounded and current.
					select {
					case <-queue:
					default:
					}
					select {
					case queue <- point:
					default:
					}
					s.logger.Warn("subscriber queue full, dropped oldest",
						slog.String("pair", pair.String()))
				}
			}
		}(pair, sub)
	}

	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.ErrStreamAborted
		case <-idle.C:
			return domain.ErrStreamTimeout
		case point := <-queue:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.idleTimeout)

			payload, err := json.Marshal(toPriceOutput(point))
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return domain.ErrStreamAborted.Wrap(err)
			}
		}
	}
}

// writeError sends a terminal failure frame; delivery is best-effort.
func (s *Streamer) writeError(conn *websocket.Conn, id string, err error) {
	reply := fail(id, err)
	payload, merr := json.Marshal(streamError{Success: false, Error: *reply.Error})
	if merr != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}
