// Package rpc serves the request/response surface: a JSON envelope over
// HTTP POST for the Prices, Charts, and Health services, and a websocket
// endpoint for streamPrices subscriptions.
package rpc

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/priceverse/priceverse/internal/domain"
)

// Recognized service identifiers, matched against "{service}@{version}".
const (
	ServicePrices = "PricesService@2.0.0"
	ServiceCharts = "ChartsService@2.0.0"
	ServiceHealth = "HealthService@1.0.0"
)

// Request is the inbound envelope.
type Request struct {
	ID        string          `json:"id"`
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Service   string          `json:"service"`
	Method    string          `json:"method"`
	Input     json.RawMessage `json:"input"`
}

// Response is the outbound envelope: success with data, or failure with a
// coded error.
type Response struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the user-visible error taxonomy.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ok builds a success reply.
func ok(id string, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

// fail builds a failure reply from err. Validation (4xxx), resource (1xxx,
// 2xxx), exchange (3xxx), and stream (6xxx) codes, plus SERVICE_UNAVAILABLE,
// pass through unchanged; everything else is rewritten to INTERNAL_ERROR with
// no details.
func fail(id string, err error) Response {
	var ce *domain.CoreError
	if errors.As(err, &ce) && passesThrough(ce.Code) {
		return Response{ID: id, Success: false, Error: &ErrorBody{
			Code:    ce.Code,
			Message: ce.Message,
			Details: ce.Details,
		}}
	}
	return Response{ID: id, Success: false, Error: &ErrorBody{
		Code:    domain.CodeInternalError,
		Message: "internal error",
	}}
}

// passesThrough reports whether a taxonomy code may reach clients as-is.
func passesThrough(code string) bool {
	switch code {
	case domain.CodePairNotFound, domain.CodePriceUnavailable, domain.CodePriceStale,
		domain.CodeChartDataNotFound, domain.CodeInvalidTimeRange, domain.CodeInvalidInterval,
		domain.CodeExchangeDisconnected, domain.CodeExchangeRateLimited, domain.CodeExchangeNotSupported,
		domain.CodeInvalidPair, domain.CodeInvalidPeriod, domain.CodeInvalidDateFormat, domain.CodeInvalidParams,
		domain.CodeStreamAborted, domain.CodeStreamTimeout,
		domain.CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// decodeInput parses an envelope input into dst, mapping malformed payloads
// to INVALID_PARAMS.
func decodeInput(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return domain.ErrInvalidParams.Wrap(fmt.Errorf("decode input: %w", err))
	}
	return nil
}
