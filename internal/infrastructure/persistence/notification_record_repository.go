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

var notificationPairColumns = []clause.Column{{Name: "order_id"}, {Name: "template"}}

// GormNotificationRecordRepository implements NotificationRecordRepository using GORM.
// Every state change is a single conditional statement; the unique index on
// (order_id, template) arbitrates between workers.
type GormNotificationRecordRepository struct {
	db *gorm.DB
}

// NewGormNotificationRecordRepository creates a new GormNotificationRecordRepository
func NewGormNotificationRecordRepository(db *gorm.DB) *GormNotificationRecordRepository {
	return &GormNotificationRecordRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormNotificationRecordRepository) WithTx(tx *gorm.DB) *GormNotificationRecordRepository {
	return &GormNotificationRecordRepository{db: tx}
}

// FindByOrderAndTemplate finds the marker for an (order, template) pair
func (r *GormNotificationRecordRepository) FindByOrderAndTemplate(ctx context.Context, orderID, template string) (*ordersync.NotificationRecord, error) {
	var model models.NotificationRecordModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND template = ?", orderID, template).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ordersync.ErrNotificationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CreateQueued inserts a queued marker
func (r *GormNotificationRecordRepository) CreateQueued(ctx context.Context, record *ordersync.NotificationRecord) error {
	if record.Status != ordersync.NotificationStatusQueued {
		return ordersync.ErrInvalidNotificationState
	}
	model := models.NotificationRecordModelFromDomain(record)
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   notificationPairColumns,
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ordersync.ErrDuplicateNotification
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ordersync.ErrDuplicateNotification
	}
	return nil
}

// ReclaimStale moves an abandoned pending marker back to queued
func (r *GormNotificationRecordRepository) ReclaimStale(ctx context.Context, orderID, template string, cutoff time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.NotificationRecordModel{}).
		Where("order_id = ? AND template = ? AND status = ? AND updated_at < ?",
			orderID, template, string(ordersync.NotificationStatusPending), cutoff).
		Updates(map[string]any{
			"status":     string(ordersync.NotificationStatusQueued),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimPending takes ownership of the send for the pair. It first tries to
// insert a fresh pending row and falls back to a conditional update of a
// queued or stale pending row.
func (r *GormNotificationRecordRepository) ClaimPending(ctx context.Context, orderID, template, placeholderID string, at, staleCutoff time.Time) (bool, error) {
	record := &ordersync.NotificationRecord{
		OrderID:   orderID,
		Template:  template,
		Status:    ordersync.NotificationStatusPending,
		MessageID: placeholderID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	model := models.NotificationRecordModelFromDomain(record)
	model.ID = uuid.New()

	inserted := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   notificationPairColumns,
			DoNothing: true,
		}).
		Create(model)
	if inserted.Error != nil && !errors.Is(inserted.Error, gorm.ErrDuplicatedKey) {
		return false, inserted.Error
	}
	if inserted.Error == nil && inserted.RowsAffected == 1 {
		return true, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.NotificationRecordModel{}).
		Where("order_id = ? AND template = ?", orderID, template).
		Where("(status = ? OR (status = ? AND updated_at < ?))",
			string(ordersync.NotificationStatusQueued),
			string(ordersync.NotificationStatusPending), staleCutoff).
		Updates(map[string]any{
			"status":     string(ordersync.NotificationStatusPending),
			"message_id": placeholderID,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSent records the provider message id on the caller's pending claim
func (r *GormNotificationRecordRepository) MarkSent(ctx context.Context, orderID, template, placeholderID, messageID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.NotificationRecordModel{}).
		Where("order_id = ? AND template = ?", orderID, template).
		Where("status = ? AND message_id = ?", string(ordersync.NotificationStatusPending), placeholderID).
		Updates(map[string]any{
			"status":     string(ordersync.NotificationStatusSent),
			"message_id": messageID,
			"sent_at":    at,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.lostClaim(ctx, orderID, template)
	}
	return nil
}

// DeletePending removes the caller's pending claim so a retry can claim the pair again
func (r *GormNotificationRecordRepository) DeletePending(ctx context.Context, orderID, template, placeholderID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("order_id = ? AND template = ?", orderID, template).
		Where("status = ? AND message_id = ?", string(ordersync.NotificationStatusPending), placeholderID).
		Delete(&models.NotificationRecordModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// lostClaim explains why a claim-guarded write matched no row
func (r *GormNotificationRecordRepository) lostClaim(ctx context.Context, orderID, template string) error {
	current, err := r.FindByOrderAndTemplate(ctx, orderID, template)
	if err != nil {
		return err
	}
	if current.IsSent() {
		return ordersync.ErrNotificationAlreadySent
	}
	return ordersync.ErrNotificationInFlight
}

// Ensure GormNotificationRecordRepository implements NotificationRecordRepository
var _ ordersync.NotificationRecordRepository = (*GormNotificationRecordRepository)(nil)
