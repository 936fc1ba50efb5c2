package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrCode
	}{
		{"price floor", ErrPriceBelowFloor, http.StatusUnprocessableEntity, PRICE_BELOW_FLOOR},
		{"wrapped cap", fmt.Errorf("coordinator.Accept: %w", ErrDailyCapExceeded), http.StatusConflict, DAILY_CAP_EXCEEDED},
		{"slot not found", fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrSlotNotFound)), http.StatusNotFound, NOT_FOUND},
		{"locked", ErrLocked, http.StatusLocked, LOCKED},
		{"forbidden", ErrForbidden, http.StatusForbidden, FORBIDDEN},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, FAILED_REQUEST},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := Classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestClassify_MessageIsSentinelText(t *testing.T) {
	_, _, msg := Classify(fmt.Errorf("pricing.Validate: %w", ErrSessionTypeMismatch))
	assert.Equal(t, ErrSessionTypeMismatch.Error(), msg)

	_, _, msg = Classify(errors.New("dial tcp: connection refused"))
	assert.Equal(t, "internal error", msg)
}

func TestCategories(t *testing.T) {
	assert.True(t, IsValidation(ErrCapacityExceeded))
	assert.False(t, IsValidation(ErrBufferViolation))

	assert.True(t, IsState(fmt.Errorf("x: %w", ErrBufferViolation)))
	assert.True(t, IsState(ErrRequestNotPending))

	assert.True(t, IsNotFound(ErrRequestNotFound))
	assert.False(t, IsNotFound(ErrConflict))

	assert.True(t, IsRetryable(ErrConcurrentModification))
	assert.True(t, IsRetryable(ErrLocked))
	assert.False(t, IsRetryable(ErrPriceBelowFloor))
}

func TestRenderError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	RenderError(rec, req, fmt.Errorf("service.AcceptRequest: %w", ErrBufferViolation))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(BUFFER_VIOLATION), body.Code)
}
