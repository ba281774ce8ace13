package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceverse/priceverse/internal/domain"
)

func TestFail_ValidationCodesPassThrough(t *testing.T) {
	resp := fail("req-1", domain.ErrInvalidPair.Wrap(fmt.Errorf("pair %q", "doge-usd")))

	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, domain.CodeInvalidPair, resp.Error.Code)
}

func TestFail_InternalErrorsAreRewritten(t *testing.T) {
	cases := []error{
		errors.New("pgx: connection refused"),
		domain.ErrDatabase.Wrap(errors.New("timeout")),
		domain.ErrRedis.Wrap(errors.New("connection reset")),
		domain.ErrInternal,
	}

	for _, err := range cases {
		resp := fail("id", err)
		require.NotNil(t, resp.Error, err.Error())
		assert.Equal(t, domain.CodeInternalError, resp.Error.Code, err.Error())
		assert.Nil(t, resp.Error.Details,
			"internal errors carry no details: %s", err.Error())
	}
}

func TestFail_DetailsSurviveForUserVisibleErrors(t *testing.T) {
	err := domain.ErrPriceUnavailable.WithDetails(map[string]any{"pair": "btc-usd"})
	resp := fail("id", err)

	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodePriceUnavailable, resp.Error.Code)
	assert.Equal(t, "btc-usd", resp.Error.Details["pair"])
}

func TestCoreErrorMatching(t *testing.T) {
	wrapped := fmt.Errorf("service layer: %w",
		domain.ErrInvalidTimeRange.Wrap(errors.New("from after to")))

	assert.True(t, errors.Is(wrapped, domain.ErrInvalidTimeRange))
	assert.Equal(t, domain.CodeInvalidTimeRange, domain.CodeOf(wrapped))
}
