package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

var modelLogger = zap.L().Named("ordersync.models")

// OrderModel is the persistence model for ingested orders
type OrderModel struct {
	BaseModel
	OrderID          string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	BranchCode       string          `gorm:"type:varchar(8);not null;index"`
	FirstName        string          `gorm:"type:varchar(100)"`
	LastName         string          `gorm:"type:varchar(100)"`
	Email            string          `gorm:"type:varchar(255)"`
	Phone            string          `gorm:"type:varchar(32)"`
	Country          string          `gorm:"type:varchar(2)"`
	Intent           string          `gorm:"type:varchar(32)"`
	Entries          string          `gorm:"type:varchar(16)"`
	Validity         string          `gorm:"type:varchar(32)"`
	ProcessingDays   int             `gorm:"not null;default:0"`
	Quantity         int             `gorm:"not null;default:0"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Currency         string          `gorm:"type:varchar(3)"`
	Urgency          string          `gorm:"type:varchar(32)"`
	AlertsEnabled    bool            `gorm:"not null;default:false"`
	ArrivalDate      string          `gorm:"type:varchar(32)"`
	SyncRecordID     *uuid.UUID      `gorm:"type:uuid"`
	ProcessingStatus string          `gorm:"type:varchar(16);not null;default:'new';index"`
	NotificationSent bool            `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() *ordersync.Order {
	return &ordersync.Order{
		ID:         m.ID,
		OrderID:    m.OrderID,
		BranchCode: m.BranchCode,
		Client: ordersync.ClientInfo{
			FirstName: m.FirstName,
			LastName:  m.LastName,
			Email:     m.Email,
			Phone:     m.Phone,
		},
		Product: ordersync.ProductInfo{
			Country:        m.Country,
			Intent:         m.Intent,
			Entries:        m.Entries,
			Validity:       m.Validity,
			ProcessingDays: m.ProcessingDays,
			Quantity:       m.Quantity,
		},
		Amount:           m.Amount,
		Currency:         m.Currency,
		Urgency:          m.Urgency,
		AlertsEnabled:    m.AlertsEnabled,
		ArrivalDate:      m.ArrivalDate,
		SyncRecordID:     m.SyncRecordID,
		ProcessingStatus: ordersync.ProcessingStatus(m.ProcessingStatus),
		NotificationSent: m.NotificationSent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// OrderModelFromDomain creates a persistence model from a domain Order
func OrderModelFromDomain(o *ordersync.Order) *OrderModel {
	m := &OrderModel{
		OrderID:          o.OrderID,
		BranchCode:       o.BranchCode,
		FirstName:        o.Client.FirstName,
		LastName:         o.Client.LastName,
		Email:            o.Client.Email,
		Phone:            o.Client.Phone,
		Country:          o.Product.Country,
		Intent:           o.Product.Intent,
		Entries:          o.Product.Entries,
		Validity:         o.Product.Validity,
		ProcessingDays:   o.Product.ProcessingDays,
		Quantity:         o.Product.Quantity,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Urgency:          o.Urgency,
		AlertsEnabled:    o.AlertsEnabled,
		ArrivalDate:      o.ArrivalDate,
		SyncRecordID:     o.SyncRecordID,
		ProcessingStatus: string(o.ProcessingStatus),
		NotificationSent: o.NotificationSent,
	}
	m.ID = o.ID
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = string(ordersync.ProcessingStatusNew)
	}
	m.CreatedAt = o.CreatedAt
	m.UpdatedAt = o.UpdatedAt
	return m
}

// SyncRecordModel is the persistence model for order sync records.
// order_id is unique: one record per order.
type SyncRecordModel struct {
	BaseModel
	OrderID          string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	ContactID        *string    `gorm:"type:varchar(64)"`
	Synced           bool       `gorm:"not null;default:false;index"`
	AttemptCount     int        `gorm:"not null;default:0"`
	ErrorCount       int        `gorm:"not null;default:0"`
	LastError        string     `gorm:"type:text"`
	LastAttemptAt    *time.Time `gorm:"column:last_attempt_at"`
	LocalizedJSON    string     `gorm:"column:localized;type:jsonb;not null;default:'{}'"`
	AlertsEnabled    bool       `gorm:"not null;default:false"`
	NotificationSent bool       `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (SyncRecordModel) TableName() string {
	return "order_sync_records"
}

// ToDomain converts the persistence model to a domain SyncRecord
func (m *SyncRecordModel) ToDomain() *ordersync.SyncRecord {
	record := &ordersync.SyncRecord{
		ID:               m.ID,
		OrderID:          m.OrderID,
		ContactID:        m.ContactID,
		Synced:           m.Synced,
		AttemptCount:     m.AttemptCount,
		ErrorCount:       m.ErrorCount,
		LastError:        m.LastError,
		LastAttemptAt:    m.LastAttemptAt,
		AlertsEnabled:    m.AlertsEnabled,
		NotificationSent: m.NotificationSent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.LocalizedJSON != "" && m.LocalizedJSON != "{}" {
		if err := json.Unmarshal([]byte(m.LocalizedJSON), &record.Localized); err != nil {
			modelLogger.Warn("failed to parse localized JSON",
				zap.String("order_id", m.OrderID),
				zap.String("raw_json", m.LocalizedJSON),
				zap.Error(err))
		}
	}
	return record
}

// SyncRecordModelFromDomain creates a persistence model from a domain SyncRecord
func SyncRecordModelFromDomain(r *ordersync.SyncRecord) *SyncRecordModel {
	m := &SyncRecordModel{
		OrderID:          r.OrderID,
		ContactID:        r.ContactID,
		Synced:           r.Synced,
		AttemptCount:     r.AttemptCount,
		ErrorCount:       r.ErrorCount,
		LastError:        r.LastError,
		LastAttemptAt:    r.LastAttemptAt,
		LocalizedJSON:    LocalizedJSON(r.Localized),
		AlertsEnabled:    r.AlertsEnabled,
		NotificationSent: r.NotificationSent,
	}
	m.ID = r.ID
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
	return m
}

// LocalizedJSON encodes the cached display strings for the localized column
func LocalizedJSON(l ordersync.LocalizedStrings) string {
	if l == (ordersync.LocalizedStrings{}) {
		return "{}"
	}
	data, err := json.Marshal(l)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// NotificationRecordModel is the persistence model for notification markers.
// (order_id, template) is unique.
type NotificationRecordModel struct {
	BaseModel
	OrderID   string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_notification_records_order_template"`
	Template  string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_notification_records_order_template"`
	Status    string     `gorm:"type:varchar(16);not null;index"`
	MessageID string     `gorm:"type:varchar(128)"`
	SentAt    *time.Time `gorm:"column:sent_at"`
}

// TableName returns the table name for GORM
func (NotificationRecordModel) TableName() string {
	return "notification_records"
}

// ToDomain converts the persistence model to a domain NotificationRecord
func (m *NotificationRecordModel) ToDomain() *ordersync.NotificationRecord {
	return &ordersync.NotificationRecord{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Template:  m.Template,
		Status:    ordersync.NotificationStatus(m.Status),
		MessageID: m.MessageID,
		SentAt:    m.SentAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// NotificationRecordModelFromDomain creates a persistence model from a domain NotificationRecord
func NotificationRecordModelFromDomain(n *ordersync.NotificationRecord) *NotificationRecordModel {
	m := &NotificationRecordModel{
		OrderID:   n.OrderID,
		Template:  n.Template,
		Status:    string(n.Status),
		MessageID: n.MessageID,
		SentAt:    n.SentAt,
	}
	m.ID = n.ID
	m.CreatedAt = n.CreatedAt
	m.UpdatedAt = n.UpdatedAt
	return m
}
