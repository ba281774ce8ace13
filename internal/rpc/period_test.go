package rpc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestResolveRange_FixedPeriods(t *testing.T) {
	cases := []struct {
		period string
		want   time.Time
	}{
		{Period24Hours, testNow.Add(-24 * time.Hour)},
		{Period7Days, testNow.AddDate(0, 0, -7)},
		{Period30Days, testNow.AddDate(0, 0, -30)},
	}

	for _, tc := range cases {
		from, to, err := resolveRange(tc.period, "", "", testNow)
		require.NoError(t, err, tc.period)
		assert.True(t, tc.want.Equal(from), tc.period)
		assert.True(t, testNow.Equal(to), tc.period)
	}
}

func TestResolveRange_CustomRequiresFrom(t *testing.T) {
	_, _, err := resolveRange(PeriodCustom, "", "", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidParams))
}

func TestResolveRange_CustomWindow(t *testing.T) {
	from, to, err := resolveRange(PeriodCustom,
		"2025-06-01T00:00:00Z", "2025-06-10T00:00:00Z", testNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), to)
}

func TestResolveRange_FromNotBeforeTo(t *testing.T) {
	_, _, err := resolveRange(PeriodCustom,
		"2025-06-10T00:00:00Z", "2025-06-01T00:00:00Z", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTimeRange))

	_, _, err = resolveRange(PeriodCustom,
		"2025-06-10T00:00:00Z", "2025-06-10T00:00:00Z", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTimeRange),
		"from equal to to is an invalid range")
}

func TestResolveRange_BadTimestamp(t *testing.T) {
	_, _, err := resolveRange(PeriodCustom, "June 1st 2025", "", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidDateFormat))
}

func TestResolveRange_UnknownPeriod(t *testing.T) {
	_, _, err := resolveRange("90days", "", "", testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPeriod))
}
