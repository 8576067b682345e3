package ordersync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryUnknown},
		{"plain timeout", errors.New("timeout"), ErrorCategoryTimeout},
		{"context deadline", fmt.Errorf("create contact: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), ErrorCategoryNetwork},
		{"unauthorized", errors.New("crm: status 401: Unauthorized"), ErrorCategoryAuth},
		{"rate limited", errors.New("crm: status 429: Too Many Requests"), ErrorCategoryRateLimit},
		{"order not found", fmt.Errorf("load order: %w", ErrOrderNotFound), ErrorCategoryNotFound},
		{"validation", errors.New("invalid phone number"), ErrorCategoryValidation},
		{"database", errors.New("ERROR: duplicate key value violates unique constraint"), ErrorCategoryDatabase},
		{"server error", errors.New("crm: status 502: Bad Gateway"), ErrorCategoryAPIError},
		{"unknown", errors.New("something odd happened"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestCategorizeMessage_PrecedenceFollowsTaxonomyOrder(t *testing.T) {
	// "timeout" wins over "network" when both appear
	assert.Equal(t, ErrorCategoryTimeout, CategorizeMessage("network timeout while reading body"))
	// "invalid token" is auth, not validation
	assert.Equal(t, ErrorCategoryAuth, CategorizeMessage("invalid token supplied"))
	assert.Equal(t, ErrorCategoryUnknown, CategorizeMessage(""))
}

func TestOutcome(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		o := Ok(SyncResult{OrderID: "A1", Status: SyncStatusSuccess, Action: SyncActionCreated})
		assert.True(t, o.IsOk())
		assert.NoError(t, o.Err)
		assert.Equal(t, "ok", o.Kind.String())
	})

	t.Run("recoverable carries category", func(t *testing.T) {
		o := Recoverable(errors.New("timeout"))
		assert.False(t, o.IsOk())
		assert.Equal(t, OutcomeRecoverable, o.Kind)
		assert.Equal(t, ErrorCategoryTimeout, o.Category)
	})

	t.Run("fatal", func(t *testing.T) {
		o := Fatal(ErrOrderNotFound)
		assert.Equal(t, OutcomeFatal, o.Kind)
		assert.Equal(t, ErrorCategoryNotFound, o.Category)
		assert.Equal(t, "fatal", o.Kind.String())
	})
}
