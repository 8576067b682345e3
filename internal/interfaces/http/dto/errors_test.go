package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidJSON, http.StatusBadRequest},
		{ErrCodeTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeRequestInFlight, http.StatusConflict},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestCodeForError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{"wrapped not found", fmt.Errorf("load: %w", ordersync.ErrOrderNotFound), ErrCodeNotFound, "order not found"},
		{"invalid order keeps its message", ordersync.ErrInvalidOrder, ErrCodeValidation, ordersync.ErrInvalidOrder.Error()},
		{"in flight", ordersync.ErrNotificationInFlight, ErrCodeConflict, "notification send in progress"},
		{"unmapped is hidden", errors.New("pq: connection refused"), ErrCodeInternal, "An unexpected error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := CodeForError(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMessage, msg)
		})
	}
}

func TestResponseEnvelope(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(ErrCodeNotFound, "order not found", "req-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"ERR_NOT_FOUND","message":"order not found","request_id":"req-1"}}`, string(data))

	data, err = json.Marshal(NewSuccessResponse(map[string]string{"job_id": "j"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"job_id":"j"}}`, string(data))

	resp := NewValidationErrorResponse("Request validation failed", "", []ValidationDetail{{Field: "order_id", Message: "This field is required"}})
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
}
