package ordersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

func TestSyncOrchestrator_UrgentIsraeliOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-1001"))

	outcome := h.orchestrator.Sync(ctx, "ORD-1001")

	require.True(t, outcome.IsOk(), "unexpected error: %v", outcome.Err)
	assert.Equal(t, ordersync.SyncStatusSuccess, outcome.Result.Status)
	assert.Equal(t, ordersync.SyncActionCreated, outcome.Result.Action)
	assert.Equal(t, "contact-1", outcome.Result.ContactID)
	assert.True(t, outcome.Result.Queued)

	contact, err := h.crm.FindByIdentity(ctx, "972501234567")
	require.NoError(t, err)
	assert.Equal(t, "he", contact.Language)
	assert.Equal(t, "noa.levi@example.com", contact.Email)
	assert.Equal(t, "1", contact.CustomFields[FieldProcessingDays])
	assert.Equal(t, "1 month", contact.CustomFields[FieldValidity])
	assert.Equal(t, "true", contact.CustomFields[FieldIsUrgent])
	assert.Equal(t, "יום עסקים אחד", contact.CustomFields[FieldProcessingDaysText])

	record := h.syncRecords.get("ORD-1001")
	require.NotNil(t, record)
	assert.True(t, record.Synced)
	require.NotNil(t, record.ContactID)
	assert.Equal(t, "contact-1", *record.ContactID)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, 0, record.ErrorCount)
	assert.Empty(t, record.LastError)
	assert.Equal(t, "הודו", record.Localized.CountryName)

	order := h.orders.get("ORD-1001")
	assert.Equal(t, ordersync.ProcessingStatusSynced, order.ProcessingStatus)
	require.NotNil(t, order.SyncRecordID)
	assert.Equal(t, record.ID, *order.SyncRecordID)

	assert.Equal(t, 1, h.notifications.count())
	marker := h.notifications.get("ORD-1001", ordersync.TemplateOrderConfirmation)
	require.NotNil(t, marker)
	assert.Equal(t, ordersync.NotificationStatusQueued, marker.Status)

	jobs := h.queue.byQueue(ordersync.QueueNotifications)
	require.Len(t, jobs, 1)
	assert.Equal(t, ordersync.JobTypeSendOrderConfirmation, jobs[0].Type)
	assert.Equal(t, 30*time.Second, jobs[0].Opts.Delay)
	assert.Equal(t, ordersync.NotificationJob{
		OrderID:   "ORD-1001",
		ContactID: "contact-1",
		Template:  ordersync.TemplateOrderConfirmation,
		Locale:    "he",
	}, jobs[0].Payload)

	assert.Equal(t, 1, h.metrics.attempts)
	assert.Equal(t, []ordersync.SyncStatus{ordersync.SyncStatusSuccess}, h.metrics.results)
	assert.Empty(t, h.metrics.errors)
}

func TestSyncOrchestrator_BranchOutsideTargetRegion(t *testing.T) {
	ctx := context.Background()
	order := newIsraeliOrder("ORD-2001")
	order.BranchCode = "se"

	contacts := new(MockContactAPI)
	syncRecords := newFakeSyncRecords()
	notifications := newFakeNotifications()
	q := &recordingQueue{}
	dispatcher := NewNotificationDispatcher(notifications, q, ordersync.BranchFilter{}, DefaultDispatcherConfig(), nil, nil)
	orchestrator := NewSyncOrchestrator(OrchestratorConfig{
		Orders:      newFakeOrders(order),
		SyncRecords: syncRecords,
		Contacts:    contacts,
		Dispatcher:  dispatcher,
	})

	outcome := orchestrator.Sync(ctx, "ORD-2001")

	require.True(t, outcome.IsOk())
	assert.Equal(t, ordersync.SyncStatusSuccess, outcome.Result.Status)
	assert.Equal(t, ordersync.SyncActionSkipped, outcome.Result.Action)
	assert.Equal(t, ordersync.SkipReasonOutsideTargetRegion, outcome.Result.SkipReason)

	contacts.AssertNotCalled(t, "FindByIdentity", mock.Anything, mock.Anything)
	contacts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	contacts.AssertNotCalled(t, "UpdateCustomFields", mock.Anything, mock.Anything, mock.Anything)
	contacts.AssertNotCalled(t, "CheckChannelAvailability", mock.Anything, mock.Anything)
	assert.Nil(t, syncRecords.get("ORD-2001"))
	assert.Zero(t, notifications.count())
	assert.Empty(t, q.jobs)
}

func TestSyncOrchestrator_CreateTimeout(t *testing.T) {
	ctx := context.Background()
	order := newIsraeliOrder("ORD-3001")

	contacts := new(MockContactAPI)
	contacts.On("FindByIdentity", mock.Anything, mock.Anything).Return(nil, ordersync.ErrContactNotFound)
	contacts.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	syncRecords := newFakeSyncRecords()
	notifications := newFakeNotifications()
	q := &recordingQueue{}
	metrics := &recordingMetrics{}
	orchestrator := NewSyncOrchestrator(OrchestratorConfig{
		Orders:      newFakeOrders(order),
		SyncRecords: syncRecords,
		Contacts:    contacts,
		Dispatcher:  NewNotificationDispatcher(notifications, q, ordersync.BranchFilter{}, DefaultDispatcherConfig(), metrics, nil),
		Metrics:     metrics,
	})

	outcome := orchestrator.Sync(ctx, "ORD-3001")

	assert.Equal(t, ordersync.OutcomeRecoverable, outcome.Kind)
	assert.Equal(t, ordersync.ErrorCategoryTimeout, outcome.Category)
	assert.Equal(t, ordersync.SyncStatusFailed, outcome.Result.Status)
	assert.ErrorIs(t, outcome.Err, ordersync.ErrNoUsableContact)

	record := syncRecords.get("ORD-3001")
	require.NotNil(t, record)
	assert.Equal(t, 1, record.ErrorCount)
	assert.Equal(t, 1, record.AttemptCount)
	assert.False(t, record.Synced)
	assert.Contains(t, record.LastError, "timeout")

	assert.Zero(t, notifications.count())
	assert.Empty(t, q.jobs)
	assert.Equal(t, []ordersync.ErrorCategory{ordersync.ErrorCategoryTimeout}, metrics.errors)
	contacts.AssertNumberOfCalls(t, "Create", 1)
	contacts.AssertNotCalled(t, "CheckChannelAvailability", mock.Anything, mock.Anything)
}

func TestSyncOrchestrator_SecondRunShortCircuits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-4001"))

	first := h.orchestrator.Sync(ctx, "ORD-4001")
	require.True(t, first.IsOk())
	second := h.orchestrator.Sync(ctx, "ORD-4001")
	require.True(t, second.IsOk())

	assert.Equal(t, ordersync.SyncActionSkipped, second.Result.Action)
	assert.Equal(t, ordersync.SkipReasonAlreadySynced, second.Result.SkipReason)
	assert.Equal(t, first.Result.ContactID, second.Result.ContactID)

	creates, updates := h.crm.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
	assert.Equal(t, 1, h.notifications.count())
	assert.Len(t, h.queue.byQueue(ordersync.QueueNotifications), 1)

	record := h.syncRecords.get("ORD-4001")
	assert.Equal(t, 2, record.AttemptCount)
	assert.Equal(t, 0, record.ErrorCount)
}

func TestSyncOrchestrator_ExistingContactByPhoneVariant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-5001"))
	h.crm.seed(&ordersync.Contact{
		ID:        "contact-legacy",
		FirstName: "Noa",
		LastName:  "Levi",
		Phone:     "9720501234567",
	}, "9720501234567")

	outcome := h.orchestrator.Sync(ctx, "ORD-5001")

	require.True(t, outcome.IsOk())
	assert.Equal(t, ordersync.SyncActionUpdated, outcome.Result.Action)
	assert.Equal(t, "contact-legacy", outcome.Result.ContactID)
	creates, updates := h.crm.counts()
	assert.Equal(t, 0, creates)
	assert.Equal(t, 1, updates)
}

func TestSyncOrchestrator_DegradedUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-6001"))
	h.crm.seed(&ordersync.Contact{ID: "contact-9", Phone: "972501234567"}, "972501234567")
	h.crm.updateErr = errors.New("status 503 service unavailable")

	outcome := h.orchestrator.Sync(ctx, "ORD-6001")

	require.True(t, outcome.IsOk())
	assert.Equal(t, ordersync.SyncStatusPartial, outcome.Result.Status)
	assert.Equal(t, ordersync.SyncActionUpdated, outcome.Result.Action)
	assert.Equal(t, "contact-9", outcome.Result.ContactID)
	assert.Equal(t, "status 503 service unavailable", outcome.Result.Warning)
	assert.True(t, outcome.Result.Queued)

	record := h.syncRecords.get("ORD-6001")
	assert.True(t, record.Synced)
	assert.Equal(t, 1, record.ErrorCount)
	assert.Equal(t, "status 503 service unavailable", record.LastError)
	assert.Equal(t, []ordersync.ErrorCategory{ordersync.ErrorCategoryAPIError}, h.metrics.errors)
}

func TestSyncOrchestrator_ChannelUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-7001"))
	h.crm.channelAvailable = false

	outcome := h.orchestrator.Sync(ctx, "ORD-7001")

	require.True(t, outcome.IsOk())
	assert.False(t, outcome.Result.Queued)
	assert.True(t, h.syncRecords.get("ORD-7001").Synced)
	assert.Zero(t, h.notifications.count())
	assert.Equal(t, []string{dispatchOutcomeSkipped}, h.metrics.dispatches)
}

func TestSyncOrchestrator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("order not found is fatal", func(t *testing.T) {
		h := newHarness()
		outcome := h.orchestrator.Sync(ctx, "missing")
		assert.Equal(t, ordersync.OutcomeFatal, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, ordersync.ErrOrderNotFound)
		assert.Zero(t, h.metrics.attempts)
	})

	t.Run("order store error is recoverable", func(t *testing.T) {
		h := newHarness(newIsraeliOrder("ORD-8001"))
		h.orders.err = errors.New("connection refused")
		outcome := h.orchestrator.Sync(ctx, "ORD-8001")
		assert.Equal(t, ordersync.OutcomeRecoverable, outcome.Kind)
		assert.Equal(t, ordersync.ErrorCategoryNetwork, outcome.Category)
	})

	t.Run("sync record create failure is fatal", func(t *testing.T) {
		h := newHarness(newIsraeliOrder("ORD-8002"))
		h.syncRecords.upsertErr = errors.New("disk full")
		outcome := h.orchestrator.Sync(ctx, "ORD-8002")
		assert.Equal(t, ordersync.OutcomeFatal, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, ordersync.ErrSyncRecordCreateFailed)
		creates, _ := h.crm.counts()
		assert.Zero(t, creates)
	})

	t.Run("lookup and re-fetch failure is recoverable", func(t *testing.T) {
		h := newHarness(newIsraeliOrder("ORD-8003"))
		h.crm.findErr = errors.New("socket hang up")
		outcome := h.orchestrator.Sync(ctx, "ORD-8003")
		assert.Equal(t, ordersync.OutcomeRecoverable, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, ordersync.ErrContactUnrecoverable)
		assert.Equal(t, 1, h.syncRecords.get("ORD-8003").ErrorCount)
		assert.Zero(t, h.notifications.count())
	})
}
