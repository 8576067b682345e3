package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/persistence/models"
)

// GormSyncRecordRepository implements SyncRecordRepository using GORM
type GormSyncRecordRepository struct {
	db *gorm.DB
}

// NewGormSyncRecordRepository creates a new GormSyncRecordRepository
func NewGormSyncRecordRepository(db *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormSyncRecordRepository) WithTx(tx *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: tx}
}

// UpsertByOrderID inserts the record unless one exists for the order, then
// returns whatever row is stored. Concurrent runs converge on one row.
func (r *GormSyncRecordRepository) UpsertByOrderID(ctx context.Context, record *ordersync.SyncRecord) (*ordersync.SyncRecord, error) {
	model := models.SyncRecordModelFromDomain(record)
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return nil, err
	}
	return r.FindByOrderID(ctx, record.OrderID)
}

// FindByOrderID finds the record for an order
func (r *GormSyncRecordRepository) FindByOrderID(ctx context.Context, orderID string) (*ordersync.SyncRecord, error) {
	var model models.SyncRecordModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ordersync.ErrSyncRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// IncrementAttempt bumps attempt_count in SQL and stamps last_attempt_at
func (r *GormSyncRecordRepository) IncrementAttempt(ctx context.Context, orderID string, at time.Time) error {
	return r.update(ctx, orderID, map[string]any{
		"attempt_count":   gorm.Expr("attempt_count + ?", 1),
		"last_attempt_at": at,
		"updated_at":      at,
	})
}

// RecordError bumps error_count in SQL and stores the message
func (r *GormSyncRecordRepository) RecordError(ctx context.Context, orderID string, msg string) error {
	return r.update(ctx, orderID, map[string]any{
		"error_count": gorm.Expr("error_count + ?", 1),
		"last_error":  msg,
		"updated_at":  time.Now(),
	})
}

// SaveSyncState persists the outcome of a successful attempt. Counters are
// left alone so increments from concurrent runs survive.
func (r *GormSyncRecordRepository) SaveSyncState(ctx context.Context, record *ordersync.SyncRecord) error {
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return r.update(ctx, record.OrderID, map[string]any{
		"contact_id":     record.ContactID,
		"synced":         record.Synced,
		"last_error":     record.LastError,
		"localized":      models.LocalizedJSON(record.Localized),
		"alerts_enabled": record.AlertsEnabled,
		"updated_at":     updatedAt,
	})
}

// MarkNotificationSent sets the notification_sent flag
func (r *GormSyncRecordRepository) MarkNotificationSent(ctx context.Context, orderID string) error {
	return r.update(ctx, orderID, map[string]any{
		"notification_sent": true,
		"updated_at":        time.Now(),
	})
}

func (r *GormSyncRecordRepository) update(ctx context.Context, orderID string, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRecordModel{}).
		Where("order_id = ?", orderID).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ordersync.ErrSyncRecordNotFound
	}
	return nil
}

// Ensure GormSyncRecordRepository implements SyncRecordRepository
var _ ordersync.SyncRecordRepository = (*GormSyncRecordRepository)(nil)
