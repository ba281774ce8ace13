package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// PricesService serves getPrice, getMultiplePrices, and getPriceChange.
// streamPrices lives on the websocket endpoint.
type PricesService struct {
	cache      domain.PriceCache
	store      domain.PriceHistoryStore
	staleAfter time.Duration
}

// NewPricesService creates the prices service. A cached price older than
// staleAfter is treated as a miss and falls through to the store.
func NewPricesService(cache domain.PriceCache, store domain.PriceHistoryStore, staleAfter time.Duration) *PricesService {
	if staleAfter <= 0 {
		staleAfter = 120 * time.Second
	}
	return &PricesService{cache: cache, store: store, staleAfter: staleAfter}
}

// PriceOutput is the canonical price wire shape.
type PriceOutput struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

type getPriceInput struct {
	Pair string `json:"pair"`
}

type getMultiplePricesInput struct {
	Pairs []string `json:"pairs"`
}

type getPriceChangeInput struct {
	Pair   string `json:"pair"`
	Period string `json:"period"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// PriceChangeOutput describes a price movement over a window.
type PriceChangeOutput struct {
	Pair          string          `json:"pair"`
	StartDate     string          `json:"startDate"`
	EndDate       string          `json:"endDate"`
	StartPrice    decimal.Decimal `json:"startPrice"`
	EndPrice      decimal.Decimal `json:"endPrice"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// Handle dispatches one method call.
func (s *PricesService) Handle(ctx context.Context, method string, input json.RawMessage) (any, error) {
	switch method {
	case "getPrice":
		var in getPriceInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return s.getPrice(ctx, in)
	case "getMultiplePrices":
		var in getMultiplePricesInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return s.getMultiplePrices(ctx, in)
	case "getPriceChange":
		var in getPriceChangeInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return s.getPriceChange(ctx, in)
	default:
		return nil, domain.ErrInvalidParams.Wrap(fmt.Errorf("unknown method %q", method))
	}
}

func (s *PricesService) getPrice(ctx context.Context, in getPriceInput) (any, error) {
	pair, err := domain.ParsePair(in.Pair)
	if err != nil {
		return nil, err
	}

	point, err := s.lookup(ctx, pair)
	if err != nil {
		return nil, err
	}
	return toPriceOutput(point), nil
}

func (s *PricesService) getMultiplePrices(ctx context.Context, in getMultiplePricesInput) (any, error) {
	if len(in.Pairs) < 1 || len(in.Pairs) > 10 {
		return nil, domain.ErrInvalidParams.Wrap(
			fmt.Errorf("pairs must contain between 1 and 10 entries, got %d", len(in.Pairs)))
	}

	out := make([]PriceOutput, 0, len(in.Pairs))
	for _, raw := range in.Pairs {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return nil, err
		}
		point, err := s.lookup(ctx, pair)
		if err != nil {
			// Missing pairs are silently dropped from the result.
			if errors.Is(err, domain.ErrPriceUnavailable) {
				continue
			}
			return nil, err
		}
		out = append(out, toPriceOutput(point))
	}
	return out, nil
}

func (s *PricesService) getPriceChange(ctx context.Context, in getPriceChangeInput) (any, error) {
	pair, err := domain.ParsePair(in.Pair)
	if err != nil {
		return nil, err
	}

	from, to, err := resolveRange(in.Period, in.From, in.To, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	start, err := s.store.FirstAfter(ctx, pair, from)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrPriceUnavailable.WithDetails(map[string]any{"pair": pair.String()})
		}
		return nil, err
	}
	end, err := s.store.LastBefore(ctx, pair, to)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrPriceUnavailable.WithDetails(map[string]any{"pair": pair.String()})
		}
		return nil, err
	}

	change := decimal.Zero
	if start.Price.IsPositive() {
		change = end.Price.Sub(start.Price).
			DivRound(start.Price, 12).
			Mul(decimal.NewFromInt(100))
	}

	return PriceChangeOutput{
		Pair:          pair.String(),
		StartDate:     start.EventTime.UTC().Format(time.RFC3339),
		EndDate:       end.EventTime.UTC().Format(time.RFC3339),
		StartPrice:    start.Price,
		EndPrice:      end.Price,
		ChangePercent: change,
	}, nil
}

// lookup reads the cached price, treating stale entries as misses, and falls
// back to the latest persisted row.
func (s *PricesService) lookup(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	point, err := s.cache.GetPrice(ctx, pair)
	if err == nil && time.Since(point.EventTime) <= s.staleAfter {
		return point, nil
	}

	point, err = s.store.Latest(ctx, pair)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PricePoint{}, domain.ErrPriceUnavailable.WithDetails(
				map[string]any{"pair": pair.String()})
		}
		return domain.PricePoint{}, err
	}
	return point, nil
}

func toPriceOutput(point domain.PricePoint) PriceOutput {
	return PriceOutput{
		Pair:      point.Pair.String(),
		Price:     point.Price,
		Timestamp: point.EventTime.UnixMilli(),
	}
}
