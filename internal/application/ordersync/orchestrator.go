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

// ContactUpserter creates or updates the external contact for an order
type ContactUpserter interface {
	Upsert(ctx context.Context, identity ContactIdentity, payload ordersync.ContactPayload) (ordersync.SyncAttemptResult, error)
}

// NotificationQueuer decides on and enqueues the confirmation message
type NotificationQueuer interface {
	Queue(ctx context.Context, order *ordersync.Order, contactID string, channelAvailable bool, record *ordersync.SyncRecord) DispatchDecision
}

// OrchestratorConfig holds the dependencies of SyncOrchestrator
type OrchestratorConfig struct {
	Orders      ordersync.OrderRepository
	SyncRecords ordersync.SyncRecordRepository
	Contacts    ordersync.ContactAPI
	Upserter    ContactUpserter
	Dispatcher  NotificationQueuer
	Mapper      *FieldMapper
	Branches    ordersync.BranchFilter
	Metrics     Metrics
	Logger      *zap.Logger
	// Now is the clock, time.Now when nil
	Now func() time.Time
}

// SyncOrchestrator drives one order through
// NoRecord -> Created -> Attempting -> Synced | Failed.
// Every step is safe to re-run: state lives in the store behind unique keys.
type SyncOrchestrator struct {
	orders      ordersync.OrderRepository
	syncRecords ordersync.SyncRecordRepository
	contacts    ordersync.ContactAPI
	upserter    ContactUpserter
	dispatcher  NotificationQueuer
	mapper      *FieldMapper
	branches    ordersync.BranchFilter
	metrics     Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncOrchestrator creates a new SyncOrchestrator
func NewSyncOrchestrator(cfg OrchestratorConfig) *SyncOrchestrator {
	o := &SyncOrchestrator{
		orders:      cfg.Orders,
		syncRecords: cfg.SyncRecords,
		contacts:    cfg.Contacts,
		upserter:    cfg.Upserter,
		dispatcher:  cfg.Dispatcher,
		mapper:      cfg.Mapper,
		branches:    cfg.Branches,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = NopMetrics{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.mapper == nil {
		o.mapper = NewFieldMapper(o.logger)
	}
	if o.upserter == nil {
		o.upserter = NewContactSyncAdapter(o.contacts, o.logger)
	}
	if o.branches.IsZero() {
		o.branches = ordersync.NewBranchFilter()
	}
	return o
}

// Sync runs the orchestration step for one order
func (o *SyncOrchestrator) Sync(ctx context.Context, orderID string) ordersync.Outcome {
	ctx, span := telemetry.StartSpan(ctx, "ordersync.sync",
		telemetry.WithAttributes(telemetry.AttrOrderID.String(orderID)))
	defer span.End()

	start := o.now()
	outcome := o.run(ctx, orderID)
	outcome.Result.OrderID = orderID
	outcome.Result.Duration = o.now().Sub(start)
	if !outcome.IsOk() {
		outcome.Result.Status = ordersync.SyncStatusFailed
		telemetry.RecordError(span, outcome.Err)
	}

	o.report(ctx, outcome)
	return outcome
}

func (o *SyncOrchestrator) run(ctx context.Context, orderID string) ordersync.Outcome {
	order, err := o.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ordersync.ErrOrderNotFound) {
			return ordersync.Fatal(fmt.Errorf("load order %s: %w", orderID, err))
		}
		return ordersync.Recoverable(fmt.Errorf("load order %s: %w", orderID, err))
	}

	// Skipped orders must not touch the sync record or its counters.
	if !o.branches.Allows(order.BranchCode) {
		return ordersync.Ok(ordersync.SyncResult{
			Status:     ordersync.SyncStatusSuccess,
			Action:     ordersync.SyncActionSkipped,
			SkipReason: ordersync.SkipReasonOutsideTargetRegion,
		})
	}

	record, err := o.syncRecords.UpsertByOrderID(ctx, ordersync.NewSyncRecord(order))
	if err != nil {
		return ordersync.Fatal(fmt.Errorf("%w: %v", ordersync.ErrSyncRecordCreateFailed, err))
	}

	// The attempt is debited before the external call so a crash mid-call
	// still counts.
	attemptAt := o.now()
	if err := o.syncRecords.IncrementAttempt(ctx, orderID, attemptAt); err != nil {
		return ordersync.Recoverable(fmt.Errorf("increment sync attempt: %w", err))
	}
	record.BeginAttempt(attemptAt)
	o.metrics.RecordSyncAttempt(ctx, order.BranchCode)

	if record.IsComplete() {
		return ordersync.Ok(ordersync.SyncResult{
			Status:     ordersync.SyncStatusSuccess,
			Action:     ordersync.SyncActionSkipped,
			ContactID:  *record.ContactID,
			SkipReason: ordersync.SkipReasonAlreadySynced,
		})
	}

	payload := o.mapper.MapOrderToContact(order)
	localized := o.mapper.MapOrderToLocalizedStrings(order)
	identity := IdentityFromOrder(order)

	attempt, err := o.upserter.Upsert(ctx, identity, payload)
	if err == nil && !attempt.HasUsableContact() {
		err = ordersync.ErrNoUsableContact
		if attempt.Error != "" {
			err = fmt.Errorf("%w: %s", ordersync.ErrNoUsableContact, attempt.Error)
		}
	}
	if err != nil {
		o.recordError(ctx, record, err.Error())
		return ordersync.Recoverable(err)
	}

	status := ordersync.SyncStatusSuccess
	if attempt.Error != "" {
		// Degraded: the contact exists but the field update did not land.
		status = ordersync.SyncStatusPartial
		o.logger.Warn("contact sync degraded, continuing with existing contact",
			zap.String("order_id", orderID),
			zap.String("contact_id", attempt.Contact.ID),
			zap.String("error", attempt.Error),
		)
		o.recordError(ctx, record, attempt.Error)
	}

	channelAvailable := o.probeChannel(ctx, orderID, identity)

	record.MarkSynced(attempt.Contact.ID, localized, attempt.Error)
	record.AlertsEnabled = order.AlertsEnabled
	if err := o.syncRecords.SaveSyncState(ctx, record); err != nil {
		return ordersync.Recoverable(fmt.Errorf("save sync state: %w", err))
	}
	if err := o.orders.LinkSyncRecord(ctx, orderID, record.ID, ordersync.ProcessingStatusSynced); err != nil {
		return ordersync.Recoverable(fmt.Errorf("link order to sync record: %w", err))
	}

	decision := o.dispatcher.Queue(ctx, order, attempt.Contact.ID, channelAvailable, record)

	action := ordersync.SyncActionUpdated
	if attempt.IsNewContact {
		action = ordersync.SyncActionCreated
	}
	return ordersync.Ok(ordersync.SyncResult{
		Status:    status,
		Action:    action,
		ContactID: attempt.Contact.ID,
		Warning:   attempt.Error,
		Queued:    decision.Queued,
	})
}

// probeChannel treats a failed probe as an unavailable channel
func (o *SyncOrchestrator) probeChannel(ctx context.Context, orderID string, identity ContactIdentity) bool {
	available, err := o.contacts.CheckChannelAvailability(ctx, identity.Primary())
	if err != nil {
		o.logger.Warn("channel availability check failed, assuming unavailable",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return false
	}
	return available
}

func (o *SyncOrchestrator) recordError(ctx context.Context, record *ordersync.SyncRecord, msg string) {
	record.RecordError(msg)
	if err := o.syncRecords.RecordError(ctx, record.OrderID, msg); err != nil {
		o.logger.Error("failed to record sync error",
			zap.String("order_id", record.OrderID),
			zap.String("sync_error", msg),
			zap.Error(err),
		)
	}
}

// report emits the terminal log line and the result metrics
func (o *SyncOrchestrator) report(ctx context.Context, outcome ordersync.Outcome) {
	r := outcome.Result
	o.metrics.RecordSyncResult(ctx, r.Status, r.Action, r.Duration)

	fields := []zap.Field{
		zap.String("order_id", r.OrderID),
		zap.String("status", string(r.Status)),
		zap.Duration("duration", r.Duration),
	}

	if !outcome.IsOk() {
		o.metrics.RecordSyncError(ctx, outcome.Category)
	} else if r.Status == ordersync.SyncStatusPartial {
		o.metrics.RecordSyncError(ctx, ordersync.CategorizeMessage(r.Warning))
	}

	switch {
	case outcome.Kind == ordersync.OutcomeFatal:
		o.logger.Error("order sync failed permanently",
			append(fields, zap.String("error_category", outcome.Category.String()), zap.Error(outcome.Err))...)
	case outcome.Kind == ordersync.OutcomeRecoverable:
		o.logger.Warn("order sync failed, will retry",
			append(fields, zap.String("error_category", outcome.Category.String()), zap.Error(outcome.Err))...)
	case r.Action == ordersync.SyncActionSkipped:
		o.logger.Info("order sync skipped",
			append(fields, zap.String("skip_reason", r.SkipReason), zap.String("contact_id", r.ContactID))...)
	case r.Status == ordersync.SyncStatusPartial:
		o.logger.Warn("order synced with errors",
			append(fields, zap.String("action", string(r.Action)), zap.String("contact_id", r.ContactID), zap.String("warning", r.Warning))...)
	default:
		o.logger.Info("order synced",
			append(fields, zap.String("action", string(r.Action)), zap.String("contact_id", r.ContactID), zap.Bool("notification_queued", r.Queued))...)
	}
}
