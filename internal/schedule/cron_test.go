package schedule

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, expr string) parsedCron {
	t.Helper()
	cron, err := parseCron(expr)
	require.NoError(t, err)
	return cron
}

func TestNextCronTime_DailyAtThree(t *testing.T) {
	cron := mustParse(t, "0 3 * * *")
	after := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	next, err := nextCronTime(cron, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTime_EveryFiveMinutes(t *testing.T) {
	cron := mustParse(t, "*/5 * * * *")
	after := time.Date(2025, 6, 1, 12, 31, 10, 0, time.UTC)

	next, err := nextCronTime(cron, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 35, 0, 0, time.UTC), next)
}

func TestNextCronTime_TopOfHour(t *testing.T) {
	cron := mustParse(t, "0 * * * *")
	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := nextCronTime(cron, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next,
		"next fire is strictly after the reference time")
}

func TestNextCronTime_MidnightUTC(t *testing.T) {
	cron := mustParse(t, "0 0 * * *")
	after := time.Date(2025, 6, 1, 23, 59, 30, 0, time.UTC)

	next, err := nextCronTime(cron, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), next)
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"0 3 * *",
		"0 3 * * * *",
		"x 3 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
	} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseCron_RangesAndLists(t *testing.T) {
	cron := mustParse(t, "0 9-17 * * 1,3,5")

	assert.True(t, cron.matchesTime(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)))  // Monday
	assert.False(t, cron.matchesTime(time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC))) // Tuesday
	assert.False(t, cron.matchesTime(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)))  // before range
}

func TestRegistry_DuplicateNameFails(t *testing.T) {
	reg := NewRegistry(slog.Default())

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, reg.AddInterval("job", time.Minute, noop))
	assert.Error(t, reg.AddInterval("job", time.Minute, noop),
		"duplicate registrations fail fast")
	assert.Error(t, reg.AddCron("job", "0 3 * * *", time.UTC, noop))
}

func TestRegistry_RejectsBadSchedules(t *testing.T) {
	reg := NewRegistry(slog.Default())

	assert.Error(t, reg.AddInterval("bad", 0, func(ctx context.Context) error { return nil }))
	assert.Error(t, reg.AddCron("bad", "not a cron", time.UTC, func(ctx context.Context) error { return nil }))
}

func TestRegistry_IntervalFires(t *testing.T) {
	reg := NewRegistry(slog.Default())

	fired := make(chan struct{}, 4)
	require.NoError(t, reg.AddInterval("tick", 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))

	require.NoError(t, reg.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Stop(ctx)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("interval job never fired")
	}
}
