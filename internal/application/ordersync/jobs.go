package ordersync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

// OrderSyncer runs one orchestration step
type OrderSyncer interface {
	Sync(ctx context.Context, orderID string) ordersync.Outcome
}

// NotificationJobProcessor performs one notification job
type NotificationJobProcessor interface {
	Process(ctx context.Context, job ordersync.NotificationJob) (ProcessResult, error)
}

// JobHandlers adapts the orchestrator and the notification processor to
// queue handlers
type JobHandlers struct {
	syncer    OrderSyncer
	processor NotificationJobProcessor
	logger    *zap.Logger
}

// NewJobHandlers creates the queue handlers
func NewJobHandlers(syncer OrderSyncer, processor NotificationJobProcessor, logger *zap.Logger) *JobHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandlers{syncer: syncer, processor: processor, logger: logger}
}

// Register binds both job types on the registry
func (h *JobHandlers) Register(r queue.Registry) {
	r.Handle(ordersync.JobTypeSyncOrder, h.HandleSyncOrder)
	r.Handle(ordersync.JobTypeSendOrderConfirmation, h.HandleSendConfirmation)
}

// HandleSyncOrder maps the sync outcome onto the queue: Recoverable retries,
// Fatal dead-letters.
func (h *JobHandlers) HandleSyncOrder(ctx context.Context, job *queue.Job) error {
	var payload ordersync.SyncOrderJob
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(err)
	}
	if payload.OrderID == "" {
		return queue.Permanent(ordersync.ErrInvalidJobPayload)
	}
	ctx, _ = logger.WithOrderID(ctx, logger.FromContext(ctx), payload.OrderID)

	outcome := h.syncer.Sync(ctx, payload.OrderID)
	switch outcome.Kind {
	case ordersync.OutcomeOk:
		return nil
	case ordersync.OutcomeFatal:
		return queue.Permanent(outcome.Err)
	default:
		if !job.ShouldRetry() {
			h.logger.Error("order sync attempts exhausted",
				zap.String("order_id", payload.OrderID),
				zap.Int("attempt", job.Attempt),
				zap.Error(outcome.Err),
			)
		}
		return outcome.Err
	}
}

// HandleSendConfirmation runs the notification processor; send failures are
// retried by the queue.
func (h *JobHandlers) HandleSendConfirmation(ctx context.Context, job *queue.Job) error {
	var payload ordersync.NotificationJob
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(err)
	}
	if payload.OrderID != "" {
		ctx, _ = logger.WithOrderID(ctx, logger.FromContext(ctx), payload.OrderID)
	}

	_, err := h.processor.Process(ctx, payload)
	if errors.Is(err, ordersync.ErrInvalidJobPayload) {
		return queue.Permanent(err)
	}
	return err
}
