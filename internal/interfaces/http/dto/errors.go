package dto

import (
	"errors"
	"net/http"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// Error codes. Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"

	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	ErrCodeTooLarge    = "ERR_REQUEST_TOO_LARGE"

	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeConflict        = "ERR_CONFLICT"
	ErrCodeRequestInFlight = "ERR_REQUEST_IN_FLIGHT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,
	ErrCodeTooLarge:    http.StatusRequestEntityTooLarge,

	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeConflict:        http.StatusConflict,
	ErrCodeRequestInFlight: http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status for an error code, 500 when unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainErrorCodes maps order sync errors that are safe to expose
var domainErrorCodes = []struct {
	err     error
	code    string
	message string
}{
	{ordersync.ErrOrderNotFound, ErrCodeNotFound, "order not found"},
	{ordersync.ErrInvalidOrder, ErrCodeValidation, ""},
	{ordersync.ErrDuplicateNotification, ErrCodeConflict, "notification already exists"},
	{ordersync.ErrNotificationInFlight, ErrCodeConflict, "notification send in progress"},
}

// CodeForError returns the error code and client message for err. Errors
// without a mapping become ERR_INTERNAL with a generic message.
func CodeForError(err error) (code, message string) {
	for _, m := range domainErrorCodes {
		if errors.Is(err, m.err) {
			if m.message == "" {
				return m.code, err.Error()
			}
			return m.code, m.message
		}
	}
	return ErrCodeInternal, "An unexpected error occurred"
}
