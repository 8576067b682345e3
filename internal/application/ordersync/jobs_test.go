package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

type syncFunc func(ctx context.Context, orderID string) ordersync.Outcome

func (f syncFunc) Sync(ctx context.Context, orderID string) ordersync.Outcome {
	return f(ctx, orderID)
}

type processFunc func(ctx context.Context, job ordersync.NotificationJob) (ProcessResult, error)

func (f processFunc) Process(ctx context.Context, job ordersync.NotificationJob) (ProcessResult, error) {
	return f(ctx, job)
}

func newSyncJob(t *testing.T, orderID string, attempt, maxAttempts int) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(ordersync.QueueOrderSync, ordersync.JobTypeSyncOrder,
		ordersync.SyncOrderJob{OrderID: orderID}, ordersync.EnqueueOptions{MaxAttempts: maxAttempts}, time.Now())
	require.NoError(t, err)
	job.Attempt = attempt
	return job
}

func TestJobHandlers_HandleSyncOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		outcome       ordersync.Outcome
		attempt       int
		wantErr       bool
		wantPermanent bool
	}{
		{
			name:    "ok",
			outcome: ordersync.Ok(ordersync.SyncResult{Status: ordersync.SyncStatusSuccess}),
			attempt: 1,
		},
		{
			name:    "recoverable is retried",
			outcome: ordersync.Recoverable(errors.New("timeout")),
			attempt: 1,
			wantErr: true,
		},
		{
			name:    "recoverable on the last attempt",
			outcome: ordersync.Recoverable(errors.New("timeout")),
			attempt: 5,
			wantErr: true,
		},
		{
			name:          "fatal is dead-lettered",
			outcome:       ordersync.Fatal(ordersync.ErrOrderNotFound),
			attempt:       1,
			wantErr:       true,
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := NewJobHandlers(syncFunc(func(ctx context.Context, orderID string) ordersync.Outcome {
				got = orderID
				return tt.outcome
			}), nil, nil)

			err := h.HandleSyncOrder(ctx, newSyncJob(t, "ORD-1", tt.attempt, 5))

			assert.Equal(t, "ORD-1", got)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, queue.IsPermanent(err))
		})
	}
}

func TestJobHandlers_InvalidPayloads(t *testing.T) {
	ctx := context.Background()
	h := NewJobHandlers(syncFunc(func(ctx context.Context, orderID string) ordersync.Outcome {
		t.Fatal("syncer must not be called")
		return ordersync.Outcome{}
	}), processFunc(func(ctx context.Context, job ordersync.NotificationJob) (ProcessResult, error) {
		t.Fatal("processor must not be called")
		return ProcessResult{}, nil
	}), nil)

	broken := &queue.Job{Type: ordersync.JobTypeSyncOrder, Payload: json.RawMessage(`{"order_id":`)}
	err := h.HandleSyncOrder(ctx, broken)
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, ordersync.ErrInvalidJobPayload)

	empty := &queue.Job{Type: ordersync.JobTypeSyncOrder, Payload: json.RawMessage(`{}`)}
	err = h.HandleSyncOrder(ctx, empty)
	assert.True(t, queue.IsPermanent(err))

	broken.Type = ordersync.JobTypeSendOrderConfirmation
	err = h.HandleSendConfirmation(ctx, broken)
	assert.True(t, queue.IsPermanent(err))
}

func TestJobHandlers_HandleSendConfirmation(t *testing.T) {
	ctx := context.Background()
	job, err := queue.NewJob(ordersync.QueueNotifications, ordersync.JobTypeSendOrderConfirmation,
		testNotificationJob(), ordersync.EnqueueOptions{MaxAttempts: 5}, time.Now())
	require.NoError(t, err)

	t.Run("send failure is retried", func(t *testing.T) {
		h := NewJobHandlers(nil, processFunc(func(ctx context.Context, got ordersync.NotificationJob) (ProcessResult, error) {
			assert.Equal(t, testNotificationJob(), got)
			return ProcessResult{}, errors.New("status 503")
		}), nil)
		err := h.HandleSendConfirmation(ctx, job)
		require.Error(t, err)
		assert.False(t, queue.IsPermanent(err))
	})

	t.Run("skip is success", func(t *testing.T) {
		h := NewJobHandlers(nil, processFunc(func(ctx context.Context, got ordersync.NotificationJob) (ProcessResult, error) {
			return ProcessResult{SkipReason: ProcessSkipAlreadySent}, nil
		}), nil)
		assert.NoError(t, h.HandleSendConfirmation(ctx, job))
	})

	t.Run("invalid payload is permanent", func(t *testing.T) {
		h := NewJobHandlers(nil, processFunc(func(ctx context.Context, got ordersync.NotificationJob) (ProcessResult, error) {
			return ProcessResult{}, ordersync.ErrInvalidJobPayload
		}), nil)
		assert.True(t, queue.IsPermanent(h.HandleSendConfirmation(ctx, job)))
	})
}

func TestJobHandlers_WorkerPipeline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newIsraeliOrder("ORD-1"))

	backend := queue.NewMemoryBackend()
	producer := queue.NewProducer(backend)
	cfg := queue.DefaultWorkerPoolConfig()
	cfg.Queues = []string{ordersync.QueueOrderSync, ordersync.QueueNotifications}
	pool, err := queue.NewWorkerPool(cfg, backend, zap.NewNop())
	require.NoError(t, err)

	dispatcher := NewNotificationDispatcher(h.notifications, producer, ordersync.BranchFilter{}, DefaultDispatcherConfig(), nil, nil)
	orchestrator := NewSyncOrchestrator(OrchestratorConfig{
		Orders:      h.orders,
		SyncRecords: h.syncRecords,
		Contacts:    h.crm,
		Dispatcher:  dispatcher,
	})
	sender := new(MockMessageSender)
	processor := NewNotificationProcessor(h.notifications, h.orders, h.syncRecords, sender, nil, nil)
	NewJobHandlers(orchestrator, processor, nil).Register(pool)

	service := NewOrderSyncService(h.orders, h.syncRecords, h.notifications, producer, orchestrator, SyncJobConfig{}, nil)
	_, err = service.RequestSync(ctx, "ORD-1")
	require.NoError(t, err)

	processed, err := pool.RunOnce(ctx, ordersync.QueueOrderSync)
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, int64(1), pool.Stats().Succeeded)
	assert.True(t, h.syncRecords.get("ORD-1").Synced)

	pending := backend.Pending(ordersync.QueueNotifications)
	require.Len(t, pending, 1)
	assert.Equal(t, ordersync.JobTypeSendOrderConfirmation, pending[0].Type)
	assert.True(t, pending[0].RunAt.After(time.Now().Add(20*time.Second)))

	// Not due yet.
	processed, err = pool.RunOnce(ctx, ordersync.QueueNotifications)
	require.NoError(t, err)
	assert.False(t, processed)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
