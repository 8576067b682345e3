package ordersync

import (
	"context"
	"errors"
	"time"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"go.uber.org/zap"
)

// Skip reasons of the notification eligibility gate, in evaluation order
const (
	DispatchSkipChannelUnavailable  = "channel_unavailable"
	DispatchSkipOrderAlertsDisabled = "order_alerts_disabled"
	DispatchSkipOutsideTargetRegion = "outside_target_region"
	DispatchSkipSyncAlertsDisabled  = "sync_alerts_disabled"
	DispatchSkipAlreadySent         = "notification_already_sent"
	DispatchSkipRecordExists        = "notification_record_exists"
	DispatchSkipDuplicateRace       = "notification_record_race"
	DispatchSkipRecordLookupFailed  = "notification_record_lookup_failed"
	DispatchSkipRecordWriteFailed   = "notification_record_write_failed"
)

// dispatch outcomes reported to metrics
const (
	dispatchOutcomeQueued        = "queued"
	dispatchOutcomeSkipped       = "skipped"
	dispatchOutcomeEnqueueFailed = "enqueue_failed"
	dispatchOutcomeWriteFailed   = "marker_write_failed"
)

// DispatchDecision reports what the dispatcher did
type DispatchDecision struct {
	Queued     bool
	JobID      string
	SkipReason string
}

// DispatcherConfig holds the delivery settings of notification jobs
type DispatcherConfig struct {
	// Template is the message template, order_confirmation by default
	Template string
	// InitialDelay is the delay before the first send attempt
	InitialDelay time.Duration
	// MaxAttempts bounds the number of send attempts
	MaxAttempts int
	// BackoffDelay is the base of the exponential backoff
	BackoffDelay time.Duration
}

// DefaultDispatcherConfig returns the default delivery settings
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Template:     ordersync.TemplateOrderConfirmation,
		InitialDelay: 30 * time.Second,
		MaxAttempts:  5,
		BackoffDelay: time.Minute,
	}
}

// NotificationDispatcher decides whether an order gets a confirmation and
// enqueues the send job. It never fails the caller.
type NotificationDispatcher struct {
	notifications ordersync.NotificationRecordRepository
	queue         ordersync.JobQueue
	branches      ordersync.BranchFilter
	config        DispatcherConfig
	metrics       Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewNotificationDispatcher creates a new NotificationDispatcher
func NewNotificationDispatcher(
	notifications ordersync.NotificationRecordRepository,
	queue ordersync.JobQueue,
	branches ordersync.BranchFilter,
	config DispatcherConfig,
	metrics Metrics,
	logger *zap.Logger,
) *NotificationDispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Template == "" {
		config.Template = defaults.Template
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffDelay <= 0 {
		config.BackoffDelay = defaults.BackoffDelay
	}
	if branches.IsZero() {
		branches = ordersync.NewBranchFilter()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{
		notifications: notifications,
		queue:         queue,
		branches:      branches,
		config:        config,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// Queue evaluates the eligibility gate and enqueues the send job. The
// queued record is written before the job so that a crash in between
// leaves no job rather than two.
func (d *NotificationDispatcher) Queue(ctx context.Context, order *ordersync.Order, contactID string, channelAvailable bool, record *ordersync.SyncRecord) DispatchDecision {
	log := d.logger.With(
		zap.String("order_id", order.OrderID),
		zap.String("template", d.config.Template),
	)

	stale, reason := d.gate(ctx, order, channelAvailable, record)
	if reason != "" {
		log.Info("notification skipped", zap.String("skip_reason", reason))
		d.metrics.RecordNotificationDispatch(ctx, dispatchOutcomeSkipped)
		return DispatchDecision{SkipReason: reason}
	}

	if err := d.writeMarker(ctx, order.OrderID, stale); err != nil {
		if errors.Is(err, ordersync.ErrDuplicateNotification) {
			log.Info("notification skipped", zap.String("skip_reason", DispatchSkipDuplicateRace))
			d.metrics.RecordNotificationDispatch(ctx, dispatchOutcomeSkipped)
			return DispatchDecision{SkipReason: DispatchSkipDuplicateRace}
		}
		log.Error("failed to write notification marker", zap.Error(err))
		d.metrics.RecordNotificationDispatch(ctx, dispatchOutcomeWriteFailed)
		return DispatchDecision{SkipReason: DispatchSkipRecordWriteFailed}
	}

	job := ordersync.NotificationJob{
		OrderID:   order.OrderID,
		ContactID: contactID,
		Template:  d.config.Template,
		Locale:    LocaleForBranch(order.BranchCode),
	}
	jobID, err := d.queue.Enqueue(ctx, ordersync.QueueNotifications, ordersync.JobTypeSendOrderConfirmation, job, ordersync.EnqueueOptions{
		Delay:       d.config.InitialDelay,
		MaxAttempts: d.config.MaxAttempts,
		Backoff: ordersync.Backoff{
			Type:  ordersync.BackoffExponential,
			Delay: d.config.BackoffDelay,
		},
	})
	if err != nil {
		// The queued marker stays so later runs skip instead of double-queuing.
		log.Error("failed to enqueue notification job", zap.Error(err))
		d.metrics.RecordNotificationDispatch(ctx, dispatchOutcomeEnqueueFailed)
		return DispatchDecision{}
	}

	log.Info("notification queued", zap.String("job_id", jobID), zap.String("contact_id", contactID))
	d.metrics.RecordNotificationDispatch(ctx, dispatchOutcomeQueued)
	return DispatchDecision{Queued: true, JobID: jobID}
}

// writeMarker inserts the queued marker, or takes over a stale pending one.
// Losing either race yields ErrDuplicateNotification.
func (d *NotificationDispatcher) writeMarker(ctx context.Context, orderID string, stale *ordersync.NotificationRecord) error {
	if stale == nil {
		return d.notifications.CreateQueued(ctx, ordersync.NewQueuedNotification(orderID, d.config.Template))
	}
	cutoff := d.now().Add(-ordersync.StalePendingThreshold)
	reclaimed, err := d.notifications.ReclaimStale(ctx, orderID, d.config.Template, cutoff)
	if err != nil {
		return err
	}
	if !reclaimed {
		return ordersync.ErrDuplicateNotification
	}
	d.logger.Warn("reclaimed stale pending notification marker",
		zap.String("order_id", orderID),
		zap.String("message_id", stale.MessageID),
	)
	return nil
}

// gate returns the first matching skip reason, or "" if eligible. A stale
// pending record that does not block is returned for takeover.
func (d *NotificationDispatcher) gate(ctx context.Context, order *ordersync.Order, channelAvailable bool, record *ordersync.SyncRecord) (*ordersync.NotificationRecord, string) {
	switch {
	case !channelAvailable:
		return nil, DispatchSkipChannelUnavailable
	case !order.AlertsEnabled:
		return nil, DispatchSkipOrderAlertsDisabled
	case !d.branches.Allows(order.BranchCode):
		return nil, DispatchSkipOutsideTargetRegion
	case record != nil && !record.AlertsEnabled:
		return nil, DispatchSkipSyncAlertsDisabled
	case (record != nil && record.NotificationSent) || order.NotificationSent:
		return nil, DispatchSkipAlreadySent
	}

	existing, err := d.notifications.FindByOrderAndTemplate(ctx, order.OrderID, d.config.Template)
	switch {
	case errors.Is(err, ordersync.ErrNotificationNotFound):
		return nil, ""
	case err != nil:
		d.logger.Error("failed to load notification record",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		return nil, DispatchSkipRecordLookupFailed
	case existing.BlocksDispatch(d.now()):
		return nil, DispatchSkipRecordExists
	default:
		return existing, ""
	}
}
