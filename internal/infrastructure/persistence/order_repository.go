package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/persistence/models"
)

// DefaultPendingPageSize is used when a pending-sync query has no limit
const DefaultPendingPageSize = 100

// orderUpsertColumns are overwritten when an order is re-ingested. The
// link-back fields are owned by the sync path and are never reset here.
var orderUpsertColumns = []string{
	"branch_code",
	"first_name",
	"last_name",
	"email",
	"phone",
	"country",
	"intent",
	"entries",
	"validity",
	"processing_days",
	"quantity",
	"amount",
	"currency",
	"urgency",
	"alerts_enabled",
	"arrival_date",
	"updated_at",
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: tx}
}

// FindByOrderID finds an order by its business identifier
func (r *GormOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*ordersync.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ordersync.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts the order or refreshes its attributes if the order_id exists
func (r *GormOrderRepository) Save(ctx context.Context, order *ordersync.Order) error {
	model := models.OrderModelFromDomain(order)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns(orderUpsertColumns),
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if order.ID == uuid.Nil {
		order.ID = model.ID
	}
	return nil
}

// LinkSyncRecord writes the sync record id and processing status back to the order
func (r *GormOrderRepository) LinkSyncRecord(ctx context.Context, orderID string, syncRecordID uuid.UUID, status ordersync.ProcessingStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{
			"sync_record_id":    syncRecordID,
			"processing_status": string(status),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ordersync.ErrOrderNotFound
	}
	return nil
}

// MarkNotificationSent sets the order-level notification flag
func (r *GormOrderRepository) MarkNotificationSent(ctx context.Context, orderID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("order_id = ?", orderID).
		Update("notification_sent", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ordersync.ErrOrderNotFound
	}
	return nil
}

// FindPendingSync lists orders that are not synced yet using keyset pagination on order_id
func (r *GormOrderRepository) FindPendingSync(ctx context.Context, filter ordersync.PendingOrderFilter) ([]ordersync.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPendingPageSize
	}

	query := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("processing_status <> ?", string(ordersync.ProcessingStatusSynced))
	if filter.AfterOrderID != "" {
		query = query.Where("order_id > ?", filter.AfterOrderID)
	}
	if filter.UpdatedAfter != nil {
		query = query.Where("updated_at > ?", *filter.UpdatedAfter)
	}

	var orderModels []models.OrderModel
	if err := query.Order("order_id ASC").Limit(limit).Find(&orderModels).Error; err != nil {
		return nil, err
	}

	orders := make([]ordersync.Order, len(orderModels))
	for i := range orderModels {
		orders[i] = *orderModels[i].ToDomain()
	}
	return orders, nil
}

// Ensure GormOrderRepository implements OrderRepository
var _ ordersync.OrderRepository = (*GormOrderRepository)(nil)
