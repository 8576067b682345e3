package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// SyncMetricsMeterName is the instrumentation scope of the order sync instruments
const SyncMetricsMeterName = "github.com/ordersync/backend/sync"

// SyncMetrics records order sync and notification measurements
type SyncMetrics struct {
	attempts         *Counter
	successes        *Counter
	failures         *Counter
	errorsByCategory *Counter
	dispatches       *Counter
	sends            *Counter
	duration         *Histogram
}

// NewSyncMetrics creates the order sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	var (
		m   SyncMetrics
		err error
	)
	counters := []struct {
		dst  **Counter
		name string
		desc string
		unit string
	}{
		{&m.attempts, "order_sync_attempts_total", "Order sync attempts by branch", "{attempt}"},
		{&m.successes, "order_sync_success_total", "Order syncs that completed, including partial", "{sync}"},
		{&m.failures, "order_sync_failure_total", "Order syncs that failed", "{sync}"},
		{&m.errorsByCategory, "order_sync_errors_by_category_total", "Order sync errors by category", "{error}"},
		{&m.dispatches, "notification_dispatch_total", "Confirmation dispatch decisions by outcome", "{dispatch}"},
		{&m.sends, "notification_send_total", "Confirmation send jobs by outcome", "{send}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.desc, c.unit); err != nil {
			return nil, err
		}
	}

	m.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "order_sync_duration_seconds",
		Description: "Order sync duration",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *SyncMetrics) RecordSyncAttempt(ctx context.Context, branch string) {
	m.attempts.Inc(ctx, AttrBranch.String(branch))
}

func (m *SyncMetrics) RecordSyncResult(ctx context.Context, status ordersync.SyncStatus, action ordersync.SyncAction, duration time.Duration) {
	attrs := []attribute.KeyValue{AttrStatus.String(string(status)), AttrAction.String(string(action))}
	if status == ordersync.SyncStatusFailed {
		m.failures.Inc(ctx, attrs...)
	} else {
		m.successes.Inc(ctx, attrs...)
	}
	m.duration.RecordDuration(ctx, duration, AttrStatus.String(string(status)))
}

func (m *SyncMetrics) RecordSyncError(ctx context.Context, category ordersync.ErrorCategory) {
	m.errorsByCategory.Inc(ctx, AttrErrorCategory.String(string(category)))
}

func (m *SyncMetrics) RecordNotificationDispatch(ctx context.Context, outcome string) {
	m.dispatches.Inc(ctx, AttrOutcome.String(outcome))
}

func (m *SyncMetrics) RecordNotificationSend(ctx context.Context, outcome string) {
	m.sends.Inc(ctx, AttrOutcome.String(outcome))
}
