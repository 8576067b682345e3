package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// SyncJobConfig holds the delivery settings of sync_order jobs
type SyncJobConfig struct {
	MaxAttempts  int
	BackoffDelay time.Duration
}

// DefaultSyncJobConfig returns the default delivery settings
func DefaultSyncJobConfig() SyncJobConfig {
	return SyncJobConfig{MaxAttempts: 5, BackoffDelay: 30 * time.Second}
}

// Options returns the enqueue options of a sync job
func (c SyncJobConfig) Options() ordersync.EnqueueOptions {
	return ordersync.EnqueueOptions{
		MaxAttempts: c.MaxAttempts,
		Backoff:     ordersync.Backoff{Type: ordersync.BackoffExponential, Delay: c.BackoffDelay},
	}
}

// OrderSyncService is the entry point used by the HTTP API and the CLI
type OrderSyncService struct {
	orders        ordersync.OrderRepository
	syncRecords   ordersync.SyncRecordRepository
	notifications ordersync.NotificationRecordRepository
	queue         ordersync.JobQueue
	syncer        OrderSyncer
	jobConfig     SyncJobConfig
	template      string
	logger        *zap.Logger
}

// NewOrderSyncService creates a new OrderSyncService
func NewOrderSyncService(
	orders ordersync.OrderRepository,
	syncRecords ordersync.SyncRecordRepository,
	notifications ordersync.NotificationRecordRepository,
	queue ordersync.JobQueue,
	syncer OrderSyncer,
	jobConfig SyncJobConfig,
	logger *zap.Logger,
) *OrderSyncService {
	defaults := DefaultSyncJobConfig()
	if jobConfig.MaxAttempts <= 0 {
		jobConfig.MaxAttempts = defaults.MaxAttempts
	}
	if jobConfig.BackoffDelay <= 0 {
		jobConfig.BackoffDelay = defaults.BackoffDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderSyncService{
		orders:        orders,
		syncRecords:   syncRecords,
		notifications: notifications,
		queue:         queue,
		syncer:        syncer,
		jobConfig:     jobConfig,
		template:      ordersync.TemplateOrderConfirmation,
		logger:        logger,
	}
}

// IngestOrder stores the order and enqueues its sync job
func (s *OrderSyncService) IngestOrder(ctx context.Context, req IngestOrderRequest) (*EnqueueResponse, error) {
	order := req.ToOrder()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	jobID, err := s.enqueue(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order ingested",
		zap.String("order_id", order.OrderID),
		zap.String("branch", order.BranchCode),
		zap.String("job_id", jobID),
	)
	return &EnqueueResponse{OrderID: order.OrderID, JobID: jobID}, nil
}

// RequestSync enqueues a sync job for an existing order
func (s *OrderSyncService) RequestSync(ctx context.Context, orderID string) (*EnqueueResponse, error) {
	if _, err := s.orders.FindByOrderID(ctx, orderID); err != nil {
		return nil, err
	}
	jobID, err := s.enqueue(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &EnqueueResponse{OrderID: orderID, JobID: jobID}, nil
}

// SyncNow runs the orchestrator inline, bypassing the queue
func (s *OrderSyncService) SyncNow(ctx context.Context, orderID string) ordersync.Outcome {
	return s.syncer.Sync(ctx, orderID)
}

// Status returns the combined sync and notification state of an order
func (s *OrderSyncService) Status(ctx context.Context, orderID string) (*SyncStatusResponse, error) {
	order, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp := &SyncStatusResponse{
		OrderID:          order.OrderID,
		BranchCode:       order.BranchCode,
		ProcessingStatus: order.ProcessingStatus,
		NotificationSent: order.NotificationSent,
	}

	record, err := s.syncRecords.FindByOrderID(ctx, orderID)
	switch {
	case err == nil:
		resp.SyncRecord = toSyncRecordResponse(record)
	case !errors.Is(err, ordersync.ErrSyncRecordNotFound):
		return nil, fmt.Errorf("load sync record: %w", err)
	}

	notification, err := s.notifications.FindByOrderAndTemplate(ctx, orderID, s.template)
	switch {
	case err == nil:
		resp.Notification = toNotificationResponse(notification)
	case !errors.Is(err, ordersync.ErrNotificationNotFound):
		return nil, fmt.Errorf("load notification record: %w", err)
	}

	return resp, nil
}

func (s *OrderSyncService) enqueue(ctx context.Context, orderID string) (string, error) {
	jobID, err := s.queue.Enqueue(ctx, ordersync.QueueOrderSync, ordersync.JobTypeSyncOrder,
		ordersync.SyncOrderJob{OrderID: orderID}, s.jobConfig.Options())
	if err != nil {
		return "", fmt.Errorf("enqueue sync job for %s: %w", orderID, err)
	}
	return jobID, nil
}
