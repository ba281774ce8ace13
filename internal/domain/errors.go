package domain

import (
	"errors"
	"fmt"
)

// Error codes form the user-visible taxonomy carried on every RPC error
// reply. Codes are stable identifiers, not Go types.
const (
	// 1xxx price
	CodePairNotFound     = "PAIR_NOT_FOUND"
	CodePriceUnavailable = "PRICE_UNAVAILABLE"
	CodePriceStale       = "PRICE_STALE"

	// 2xxx chart
	CodeChartDataNotFound = "CHART_DATA_NOT_FOUND"
	CodeInvalidTimeRange  = "INVALID_TIME_RANGE"
	CodeInvalidInterval   = "INVALID_INTERVAL"

	// 3xxx exchange
	CodeExchangeDisconnected = "EXCHANGE_DISCONNECTED"
	CodeExchangeRateLimited  = "EXCHANGE_RATE_LIMITED"
	CodeExchangeNotSupported = "EXCHANGE_NOT_SUPPORTED"

	// 4xxx validation
	CodeInvalidPair       = "INVALID_PAIR"
	CodeInvalidPeriod     = "INVALID_PERIOD"
	CodeInvalidDateFormat = "INVALID_DATE_FORMAT"
	CodeInvalidParams     = "INVALID_PARAMS"

	// 5xxx system
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeRedisError         = "REDIS_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// 6xxx stream
	CodeStreamAborted = "STREAM_ABORTED"
	CodeStreamTimeout = "STREAM_TIMEOUT"
)

// CoreError is the error value type used across the pipeline. Validation and
// not-found errors bubble to the RPC boundary unchanged; system errors other
// than SERVICE_UNAVAILABLE are rewritten to INTERNAL_ERROR there.
type CoreError struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

// NewCoreError creates a CoreError with the given code and message.
func NewCoreError(code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *CoreError) Unwrap() error { return e.cause }

// Is matches any CoreError with the same code, so wrapped storage errors keep
// their original code through errors.Is.
func (e *CoreError) Is(target error) bool {
	var ce *CoreError
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// WithDetails returns a copy of e carrying the given details map.
func (e *CoreError) WithDetails(details map[string]any) *CoreError {
	return &CoreError{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Wrap returns a copy of e with cause attached.
func (e *CoreError) Wrap(cause error) *CoreError {
	return &CoreError{Code: e.Code, Message: e.Message, Details: e.Details, cause: cause}
}

// Sentinel errors for the common taxonomy entries. Compare with errors.Is.
var (
	ErrPairNotFound     = NewCoreError(CodePairNotFound, "pair not found")
	ErrPriceUnavailable = NewCoreError(CodePriceUnavailable, "price unavailable")
	ErrPriceStale       = NewCoreError(CodePriceStale, "price is stale")

	ErrChartDataNotFound = NewCoreError(CodeChartDataNotFound, "chart data not found")
	ErrInvalidTimeRange  = NewCoreError(CodeInvalidTimeRange, "invalid time range")
	ErrInvalidInterval   = NewCoreError(CodeInvalidInterval, "invalid interval")

	ErrExchangeDisconnected = NewCoreError(CodeExchangeDisconnected, "exchange disconnected")
	ErrExchangeNotSupported = NewCoreError(CodeExchangeNotSupported, "exchange not supported")

	ErrInvalidPair       = NewCoreError(CodeInvalidPair, "invalid pair")
	ErrInvalidPeriod     = NewCoreError(CodeInvalidPeriod, "invalid period")
	ErrInvalidDateFormat = NewCoreError(CodeInvalidDateFormat, "invalid date format")
	ErrInvalidParams     = NewCoreError(CodeInvalidParams, "invalid parameters")

	ErrDatabase           = NewCoreError(CodeDatabaseError, "database error")
	ErrRedis              = NewCoreError(CodeRedisError, "redis error")
	ErrInternal           = NewCoreError(CodeInternalError, "internal error")
	ErrServiceUnavailable = NewCoreError(CodeServiceUnavailable, "service unavailable")

	ErrStreamAborted = NewCoreError(CodeStreamAborted, "stream aborted")
	ErrStreamTimeout = NewCoreError(CodeStreamTimeout, "stream idle timeout")
)

// ErrNotFound is the generic not-found sentinel used by caches and stores.
// It is distinct from the taxonomy: a cache miss is not a user-visible error.
var ErrNotFound = errors.New("not found")

// CodeOf extracts the taxonomy code from err, or INTERNAL_ERROR when err does
// not carry one.
func CodeOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternalError
}
