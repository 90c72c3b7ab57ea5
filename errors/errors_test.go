package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidStateNamesOperationAndStatus(t *testing.T) {
	err := InvalidState("append-leg", "completed")

	assert.Equal(t, InvalidStateError, err.Type)
	assert.Contains(t, err.Detail, "append-leg")
	assert.Contains(t, err.Detail, "completed")
	assert.Equal(t, http.StatusConflict, err.GetHTTPStatus())
}

func TestIsType(t *testing.T) {
	base := InvalidRateSnapshot("USD", "rate is zero")
	wrapped := fmt.Errorf("converting crossing: %w", base)

	assert.True(t, IsType(wrapped, ConfigurationError))
	assert.False(t, IsType(wrapped, ValidationError))
	assert.False(t, IsType(nil, ValidationError))
}

func TestWrapPreservesRaw(t *testing.T) {
	raw := fmt.Errorf("connection refused")
	err := Wrap(raw, NetworkError, "dispatch failed")

	assert.Equal(t, raw, err.Raw)
	assert.Equal(t, http.StatusGatewayTimeout, err.GetHTTPStatus())
	assert.Contains(t, err.Error(), "dispatch failed")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, DatabaseError, "noop"))
}

func TestSequenceGapDetail(t *testing.T) {
	err := SequenceGap("trip-1", 4, 7)
	assert.Equal(t, ConflictError, err.Type)
	assert.Contains(t, err.Detail, "last applied 4")
	assert.Contains(t, err.Detail, "received 7")
}
