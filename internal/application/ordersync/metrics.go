package ordersync

import (
	"context"
	"time"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// Metrics receives the sync and notification measurements
type Metrics interface {
	RecordSyncAttempt(ctx context.Context, branch string)
	RecordSyncResult(ctx context.Context, status ordersync.SyncStatus, action ordersync.SyncAction, duration time.Duration)
	RecordSyncError(ctx context.Context, category ordersync.ErrorCategory)
	RecordNotificationDispatch(ctx context.Context, outcome string)
	RecordNotificationSend(ctx context.Context, outcome string)
}

// NopMetrics discards all measurements
type NopMetrics struct{}

func (NopMetrics) RecordSyncAttempt(context.Context, string) {}
func (NopMetrics) RecordSyncResult(context.Context, ordersync.SyncStatus, ordersync.SyncAction, time.Duration) {
}
func (NopMetrics) RecordSyncError(context.Context, ordersync.ErrorCategory) {}
func (NopMetrics) RecordNotificationDispatch(context.Context, string)     {}
func (NopMetrics) RecordNotificationSend(context.Context, string)         {}

var _ Metrics = NopMetrics{}
