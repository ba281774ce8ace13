package rpc

import (
	"fmt"
	"time"

	"github.com/priceverse/priceverse/internal/domain"
)

// Recognized query periods.
const (
	Period24Hours = "24hours"
	Period7Days   = "7days"
	Period30Days  = "30days"
	PeriodCustom  = "custom"
)

// resolveRange turns a period plus optional from/to into a concrete window.
// A custom period requires from; from at or past to is an invalid range.
func resolveRange(period, fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if toStr != "" {
		t, err := parseRFC3339(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}

	var from time.Time
	switch period {
	case Period24Hours:
		from = to.Add(-24 * time.Hour)
	case Period7Days:
		from = to.AddDate(0, 0, -7)
	case Period30Days:
		from = to.AddDate(0, 0, -30)
	case PeriodCustom:
		if fromStr == "" {
			return time.Time{}, time.Time{}, domain.ErrInvalidParams.Wrap(
				fmt.Errorf("custom period requires from"))
		}
	default:
		return time.Time{}, time.Time{}, domain.ErrInvalidPeriod.Wrap(
			fmt.Errorf("period %q", period))
	}

	if fromStr != "" {
		t, err := parseRFC3339(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, domain.ErrInvalidTimeRange.Wrap(
			fmt.Errorf("from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339)))
	}
	return from.UTC(), to.UTC(), nil
}

// parseRFC3339 maps malformed timestamps to INVALID_DATE_FORMAT.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.ErrInvalidDateFormat.Wrap(fmt.Errorf("timestamp %q: %w", s, err))
	}
	return t.UTC(), nil
}
