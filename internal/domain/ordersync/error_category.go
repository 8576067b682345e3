package ordersync

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorCategory classifies a failure for metrics and retry decisions
type ErrorCategory string

const (
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryAuth       ErrorCategory = "auth"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategoryNotFound   ErrorCategory = "not_found"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryDatabase   ErrorCategory = "database"
	ErrorCategoryAPIError   ErrorCategory = "api_error"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	return string(c)
}

// categoryKeywords is evaluated in order; the first category with a
// matching keyword wins.
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{ErrorCategoryTimeout, []string{"timeout", "timed out", "deadline exceeded", "etimedout"}},
	{ErrorCategoryNetwork, []string{"network", "connection refused", "connection reset", "econnrefused", "econnreset", "enotfound", "no such host", "broken pipe", "unexpected eof", "socket hang up"}},
	{ErrorCategoryAuth, []string{"unauthorized", "unauthorised", "forbidden", "authentication", "invalid token", "api key", "status 401", "status 403"}},
	{ErrorCategoryRateLimit, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "status 429"}},
	{ErrorCategoryNotFound, []string{"not found", "not_found", "status 404"}},
	{ErrorCategoryValidation, []string{"validation", "invalid", "unprocessable", "status 400", "status 422"}},
	{ErrorCategoryDatabase, []string{"database", "sql", "gorm", "duplicate key", "constraint", "deadlock", "relation"}},
	{ErrorCategoryAPIError, []string{"api error", "api_error", "status 5", "internal server error", "bad gateway", "service unavailable"}},
}

// Categorize derives the category of err from its type and message text.
// A nil error is categorized as unknown.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}
	return CategorizeMessage(err.Error())
}

// CategorizeMessage derives the category from an error message
func CategorizeMessage(msg string) ErrorCategory {
	lower := strings.ToLower(msg)
	if lower == "" {
		return ErrorCategoryUnknown
	}
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	return ErrorCategoryUnknown
}
