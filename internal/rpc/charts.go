package rpc

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/priceverse/priceverse/internal/domain"
)

// maxOHLCVLimit bounds one getOHLCV page.
const maxOHLCVLimit = 1000

// ChartsService serves getChartData and getOHLCV over the candle store.
type ChartsService struct {
	candles domain.CandleStore
}

// NewChartsService creates the charts service.
func NewChartsService(candles domain.CandleStore) *ChartsService {
	return &ChartsService{candles: candles}
}

type getChartDataInput struct {
	Pair     string `json:"pair"`
	Period   string `json:"period"`
	Interval string `json:"interval"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// ChartDataOutput carries aligned arrays sorted ascending by date.
type ChartDataOutput struct {
	Dates  []string          `json:"dates"`
	Series []decimal.Decimal `json:"series"`
	OHLCV  OHLCVSeries       `json:"ohlcv"`
}

// OHLCVSeries is the per-component candle series.
type OHLCVSeries struct {
	Open   []decimal.Decimal `json:"open"`
	High   []decimal.Decimal `json:"high"`
	Low    []decimal.Decimal `json:"low"`
	Close  []decimal.Decimal `json:"close"`
	Volume []decimal.Decimal `json:"volume"`
}

type getOHLCVInput struct {
	Pair     string `json:"pair"`
	Interval string `json:"interval"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
	Order    string `json:"order,omitempty"`
}

// OHLCVOutput is an offset-paginated candle page.
type OHLCVOutput struct {
	Candles    []domain.Candle `json:"candles"`
	Pagination Pagination      `json:"pagination"`
}

// Pagination describes the page position.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// OHLCVCursorOutput is a keyset-paginated candle page, returned when the
// caller supplies a cursor-based query.
type OHLCVCursorOutput struct {
	Candles        []domain.Candle `json:"candles"`
	NextCursor     string          `json:"nextCursor,omitempty"`
	PreviousCursor string          `json:"previousCursor,omitempty"`
	HasMore        bool            `json:"hasMore"`
	Limit          int             `json:"limit"`
}

// Handle dispatches one method call.
func (s *ChartsService) Handle(ctx context.Context, method string, input json.RawMessage) (any, error) {
	switch method {
	case "getChartData":
		var in getChartDataInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return s.getChartData(ctx, in)
	case "getOHLCV":
		var in getOHLCVInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return s.getOHLCV(ctx, in)
	default:
		return nil, domain.ErrInvalidParams.Wrap(fmt.Errorf("unknown method %q", method))
	}
}

func (s *ChartsService) getChartData(ctx context.Context, in getChartDataInput) (any, error) {
	pair, err := domain.ParsePair(in.Pair)
	if err != nil {
		return nil, err
	}
	res, err := domain.ParseResolution(in.Interval)
	if err != nil {
		return nil, err
	}
	from, to, err := resolveRange(in.Period, in.From, in.To, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	candles, err := s.candles.InRange(ctx, res, pair, from, to)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, domain.ErrChartDataNotFound.WithDetails(map[string]any{
			"pair":     pair.String(),
			"interval": string(res),
		})
	}

	out := ChartDataOutput{
		Dates:  make([]string, 0, len(candles)),
		Series: make([]decimal.Decimal, 0, len(candles)),
		OHLCV: OHLCVSeries{
			Open:   make([]decimal.Decimal, 0, len(candles)),
			High:   make([]decimal.Decimal, 0, len(candles)),
			Low:    make([]decimal.Decimal, 0, len(candles)),
			Close:  make([]decimal.Decimal, 0, len(candles)),
			Volume: make([]decimal.Decimal, 0, len(candles)),
		},
	}
	for _, c := range candles {
		out.Dates = append(out.Dates, c.PeriodStart.UTC().Format(time.RFC3339))
		out.Series = append(out.Series, c.Close)
		out.OHLCV.Open = append(out.OHLCV.Open, c.Open)
		out.OHLCV.High = append(out.OHLCV.High, c.High)
		out.OHLCV.Low = append(out.OHLCV.Low, c.Low)
		out.OHLCV.Close = append(out.OHLCV.Close, c.Close)
		out.OHLCV.Volume = append(out.OHLCV.Volume, c.Volume)
	}
	return out, nil
}

func (s *ChartsService) getOHLCV(ctx context.Context, in getOHLCVInput) (any, error) {
	pair, err := domain.ParsePair(in.Pair)
	if err != nil {
		return nil, err
	}
	res, err := domain.ParseResolution(in.Interval)
	if err != nil {
		return nil, err
	}
	if in.Limit < 0 || in.Limit > maxOHLCVLimit {
		return nil, domain.ErrInvalidParams.Wrap(
			fmt.Errorf("limit must be between 0 and %d, got %d", maxOHLCVLimit, in.Limit))
	}
	if in.Offset < 0 {
		return nil, domain.ErrInvalidParams.Wrap(fmt.Errorf("offset must not be negative"))
	}

	limit := in.Limit
	if limit == 0 {
		limit = 100
	}

	// A cursor query switches to keyset pagination.
	if in.Cursor != "" {
		order := domain.Order(in.Order)
		if order != domain.OrderAsc && order != "" {
			order = domain.OrderDesc
		}
		page, err := s.candles.GetWithCursor(ctx, res, pair, domain.CursorOpts{
			Limit:  limit,
			Cursor: in.Cursor,
			Order:  order,
		})
		if err != nil {
			return nil, err
		}
		return OHLCVCursorOutput{
			Candles:        page.Candles,
			NextCursor:     page.NextCursor,
			PreviousCursor: page.PreviousCursor,
			HasMore:        page.HasMore,
			Limit:          limit,
		}, nil
	}

	page, err := s.candles.GetWithOffset(ctx, res, pair, limit, in.Offset)
	if err != nil {
		return nil, err
	}
	return OHLCVOutput{
		Candles: page.Candles,
		Pagination: Pagination{
			Total:  page.Total,
			Limit:  limit,
			Offset: in.Offset,
		},
	}, nil
}
