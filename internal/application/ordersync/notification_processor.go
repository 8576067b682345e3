package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Skip reasons of the notification job processor
const (
	ProcessSkipAlreadySent = "already_sent"
	ProcessSkipInFlight    = "send_in_flight"
)

// send outcomes reported to metrics
const (
	sendOutcomeSent    = "sent"
	sendOutcomeSkipped = "skipped"
	sendOutcomeFailed  = "failed"
)

// ProcessResult reports what the processor did with one job
type ProcessResult struct {
	Sent       bool
	MessageID  string
	SkipReason string
	Reclaimed  bool
}

// NotificationProcessor performs the send of one notification job and
// resolves its idempotency marker
type NotificationProcessor struct {
	notifications ordersync.NotificationRecordRepository
	orders        ordersync.OrderRepository
	syncRecords   ordersync.SyncRecordRepository
	sender        ordersync.MessageSender
	mapper        *FieldMapper
	metrics       Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewNotificationProcessor creates a new NotificationProcessor
func NewNotificationProcessor(
	notifications ordersync.NotificationRecordRepository,
	orders ordersync.OrderRepository,
	syncRecords ordersync.SyncRecordRepository,
	sender ordersync.MessageSender,
	metrics Metrics,
	logger *zap.Logger,
) *NotificationProcessor {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{
		notifications: notifications,
		orders:        orders,
		syncRecords:   syncRecords,
		sender:        sender,
		mapper:        NewFieldMapper(logger),
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// Process sends the message for job unless a sent or live pending marker
// exists. An error means the queue should retry the job.
func (p *NotificationProcessor) Process(ctx context.Context, job ordersync.NotificationJob) (ProcessResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ordersync.notification.process",
		telemetry.WithAttributes(
			telemetry.AttrOrderID.String(job.OrderID),
			telemetry.AttrTemplate.String(job.Template),
		))
	defer span.End()

	if job.OrderID == "" {
		return ProcessResult{}, ordersync.ErrInvalidJobPayload
	}
	if job.Template == "" {
		job.Template = ordersync.TemplateOrderConfirmation
	}
	log := p.logger.With(
		zap.String("order_id", job.OrderID),
		zap.String("template", job.Template),
	)

	result := ProcessResult{}
	existing, err := p.notifications.FindByOrderAndTemplate(ctx, job.OrderID, job.Template)
	switch {
	case errors.Is(err, ordersync.ErrNotificationNotFound):
	case err != nil:
		telemetry.RecordError(span, err)
		return result, fmt.Errorf("load notification record: %w", err)
	case existing.IsSent():
		log.Info("notification already sent, skipping", zap.String("message_id", existing.MessageID))
		p.metrics.RecordNotificationSend(ctx, sendOutcomeSkipped)
		return ProcessResult{SkipReason: ProcessSkipAlreadySent, MessageID: existing.MessageID}, nil
	case existing.IsFreshPending(p.now()):
		log.Info("notification send in flight on another worker, skipping",
			zap.Time("pending_since", existing.UpdatedAt))
		p.metrics.RecordNotificationSend(ctx, sendOutcomeSkipped)
		return ProcessResult{SkipReason: ProcessSkipInFlight}, nil
	case existing.IsStalePending(p.now()):
		log.Warn("reclaiming abandoned pending notification",
			zap.String("message_id", existing.MessageID),
			zap.Time("pending_since", existing.UpdatedAt))
		result.Reclaimed = true
	}

	// The pending marker must be durable before the provider is called.
	now := p.now()
	placeholder := ordersync.NewPlaceholderMessageID()
	claimed, err := p.notifications.ClaimPending(ctx, job.OrderID, job.Template, placeholder, now, now.Add(-ordersync.StalePendingThreshold))
	if err != nil {
		telemetry.RecordError(span, err)
		return result, fmt.Errorf("write pending marker: %w", err)
	}
	if !claimed {
		log.Info("notification claimed by another worker, skipping")
		p.metrics.RecordNotificationSend(ctx, sendOutcomeSkipped)
		return ProcessResult{SkipReason: ProcessSkipInFlight}, nil
	}

	req, err := p.buildRequest(ctx, job)
	if err == nil {
		result.MessageID, err = p.sender.Send(ctx, req)
	}
	if err != nil {
		// Only our own claim is rolled back; a reclaiming worker may have
		// replaced it, possibly with a sent row.
		removed, delErr := p.notifications.DeletePending(ctx, job.OrderID, job.Template, placeholder)
		switch {
		case delErr != nil:
			log.Error("failed to remove pending marker after send failure", zap.Error(delErr))
		case !removed:
			log.Warn("pending marker was reclaimed by another worker, leaving it in place",
				zap.String("placeholder", placeholder))
		}
		log.Warn("notification send failed",
			zap.String("error_category", ordersync.Categorize(err).String()),
			zap.Bool("marker_removed", removed),
			zap.Error(err))
		p.metrics.RecordNotificationSend(ctx, sendOutcomeFailed)
		telemetry.RecordError(span, err)
		return result, fmt.Errorf("send %s for order %s: %w", job.Template, job.OrderID, err)
	}
	result.Sent = true

	// The message is out; bookkeeping failures are logged, not retried, so a
	// retry never re-sends.
	err = p.notifications.MarkSent(ctx, job.OrderID, job.Template, placeholder, result.MessageID, p.now())
	switch {
	case errors.Is(err, ordersync.ErrNotificationAlreadySent), errors.Is(err, ordersync.ErrNotificationInFlight):
		log.Error("pending marker lost while sending, another worker took over the notification",
			zap.String("message_id", result.MessageID),
			zap.String("placeholder", placeholder),
			zap.Error(err))
	case err != nil:
		log.Error("failed to mark notification sent", zap.String("message_id", result.MessageID), zap.Error(err))
	}
	if err := p.orders.MarkNotificationSent(ctx, job.OrderID); err != nil {
		log.Error("failed to set order notification flag", zap.Error(err))
	}
	if err := p.syncRecords.MarkNotificationSent(ctx, job.OrderID); err != nil {
		log.Error("failed to set sync record notification flag", zap.Error(err))
	}

	log.Info("notification sent", zap.String("message_id", result.MessageID), zap.Bool("reclaimed", result.Reclaimed))
	p.metrics.RecordNotificationSend(ctx, sendOutcomeSent)
	return result, nil
}

// buildRequest fills the template variables from the order
func (p *NotificationProcessor) buildRequest(ctx context.Context, job ordersync.NotificationJob) (ordersync.SendRequest, error) {
	order, err := p.orders.FindByOrderID(ctx, job.OrderID)
	if err != nil {
		return ordersync.SendRequest{}, fmt.Errorf("load order: %w", err)
	}
	locale := job.Locale
	if locale == "" {
		locale = LocaleForBranch(order.BranchCode)
	}
	localized := p.mapper.MapOrderToLocalizedStrings(order)

	return ordersync.SendRequest{
		OrderID:   job.OrderID,
		ContactID: job.ContactID,
		Template:  job.Template,
		Locale:    locale,
		Variables: map[string]string{
			"first_name":           order.Client.FirstName,
			"order_id":             order.OrderID,
			"country_name":         localized.CountryName,
			"visa_type":            localized.VisaType,
			"processing_days_text": localized.ProcessingDaysText,
		},
	}, nil
}
