package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	err := ErrNotFound("deal")
	assert.Equal(t, ErrCodeNotFound, ErrorCode(err))
	assert.True(t, HasCode(err, ErrCodeNotFound))
	assert.Contains(t, err.Error(), "deal not found")

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, HasCode(wrapped, ErrCodeNotFound))

	assert.Zero(t, ErrorCode(errors.New("plain")))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
}

func TestErrRouteUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrRouteUnavailable(cause)

	assert.True(t, HasCode(err, ErrCodeRouteUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(ErrRouteUnavailable(nil), ErrCodeRouteUnavailable))
}

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleCarrier.IsValid())
	assert.False(t, Role("driver").IsValid())
}
