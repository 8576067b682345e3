package ordersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LocalizedStrings are the display strings derived from an order
type LocalizedStrings struct {
	CountryName        string `json:"country_name"`
	VisaType           string `json:"visa_type"`
	ProcessingDaysText string `json:"processing_days_text"`
}

// SyncRecord tracks the synchronization of one order to its external contact.
// There is exactly one record per order and it is never deleted.
type SyncRecord struct {
	// ID is the unique identifier of the sync record
	ID uuid.UUID
	// OrderID is the business identifier of the order (unique)
	OrderID string
	// ContactID is the external contact identifier, nil until created
	ContactID *string
	// Synced is true once the contact has been created or updated
	Synced bool
	// AttemptCount is incremented before every external call
	AttemptCount int
	// ErrorCount is incremented on every failed or degraded attempt
	ErrorCount int
	// LastError is the message of the most recent failure
	LastError string
	// LastAttemptAt is when the last attempt started
	LastAttemptAt *time.Time
	// Localized holds the cached display strings
	Localized LocalizedStrings
	// AlertsEnabled is a snapshot of the order's alerts flag
	AlertsEnabled bool
	// NotificationSent is set once the confirmation has been delivered
	NotificationSent bool
	// CreatedAt is when the record was created
	CreatedAt time.Time
	// UpdatedAt is when the record was last updated
	UpdatedAt time.Time
}

// NewSyncRecord creates the initial record for an order
func NewSyncRecord(order *Order) *SyncRecord {
	now := time.Now()
	return &SyncRecord{
		ID:            uuid.New(),
		OrderID:       order.OrderID,
		AlertsEnabled: order.AlertsEnabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HasContact returns true if an external contact is linked
func (r *SyncRecord) HasContact() bool {
	return r.ContactID != nil && *r.ContactID != ""
}

// IsComplete returns true if the record is synced and linked
func (r *SyncRecord) IsComplete() bool {
	return r.Synced && r.HasContact()
}

// BeginAttempt applies the attempt bookkeeping in memory
func (r *SyncRecord) BeginAttempt(at time.Time) {
	r.AttemptCount++
	r.LastAttemptAt = &at
	r.UpdatedAt = at
}

// RecordError applies a failed attempt in memory
func (r *SyncRecord) RecordError(msg string) {
	r.ErrorCount++
	r.LastError = msg
	r.UpdatedAt = time.Now()
}

// MarkSynced links the contact. degradedErr is kept as LastError when the
// attempt only partially succeeded, otherwise LastError is cleared.
func (r *SyncRecord) MarkSynced(contactID string, localized LocalizedStrings, degradedErr string) {
	r.ContactID = &contactID
	r.Synced = true
	r.Localized = localized
	r.LastError = degradedErr
	r.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// SyncRecordRepository Interface
// ---------------------------------------------------------------------------

// SyncRecordRepository defines persistence operations for sync records.
// Counter updates are applied in SQL so concurrent runs never lose increments.
type SyncRecordRepository interface {
	// UpsertByOrderID inserts the record if no row exists for its order_id
	// and returns the stored row
	UpsertByOrderID(ctx context.Context, record *SyncRecord) (*SyncRecord, error)

	// FindByOrderID finds the record for an order
	FindByOrderID(ctx context.Context, orderID string) (*SyncRecord, error)

	// IncrementAttempt increments attempt_count and sets last_attempt_at
	IncrementAttempt(ctx context.Context, orderID string, at time.Time) error

	// RecordError increments error_count and sets last_error
	RecordError(ctx context.Context, orderID string, msg string) error

	// SaveSyncState persists contact id, synced flag, last error, localized
	// strings and alerts snapshot
	SaveSyncState(ctx context.Context, record *SyncRecord) error

	// MarkNotificationSent sets the notification_sent flag
	MarkNotificationSent(ctx context.Context, orderID string) error
}
