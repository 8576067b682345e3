package ordersync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemplateOrderConfirmation is the message template sent after a successful sync
const TemplateOrderConfirmation = "order_confirmation"

// StalePendingThreshold is the age after which a pending marker is considered abandoned
const StalePendingThreshold = 2 * time.Minute

// placeholderPrefix marks message ids that have not been assigned by the provider yet
const placeholderPrefix = "pending-"

// NotificationStatus represents the delivery status of a notification
type NotificationStatus string

const (
	// NotificationStatusQueued means a send job has been enqueued
	NotificationStatusQueued NotificationStatus = "queued"
	// NotificationStatusPending means a worker is sending right now
	NotificationStatusPending NotificationStatus = "pending"
	// NotificationStatusSent means the provider accepted the message
	NotificationStatusSent NotificationStatus = "sent"
)

// IsValid returns true if the status is valid
func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationStatusQueued, NotificationStatusPending, NotificationStatusSent:
		return true
	default:
		return false
	}
}

// String returns the string representation of NotificationStatus
func (s NotificationStatus) String() string {
	return string(s)
}

// NotificationRecord is the idempotency marker for one (order, template) pair
type NotificationRecord struct {
	// ID is the unique identifier of the record
	ID uuid.UUID
	// OrderID is the business identifier of the order
	OrderID string
	// Template is the message template name
	Template string
	// Status is the delivery status
	Status NotificationStatus
	// MessageID is a placeholder until the provider assigns the real id
	MessageID string
	// CreatedAt is when the record was created
	CreatedAt time.Time
	// UpdatedAt is when the record was last updated
	UpdatedAt time.Time
	// SentAt is when the provider accepted the message
	SentAt *time.Time
}

// NewQueuedNotification creates a queued record for an order and template
func NewQueuedNotification(orderID, template string) *NotificationRecord {
	now := time.Now()
	return &NotificationRecord{
		ID:        uuid.New(),
		OrderID:   orderID,
		Template:  template,
		Status:    NotificationStatusQueued,
		MessageID: NewPlaceholderMessageID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewPlaceholderMessageID generates a message id used until the provider responds
func NewPlaceholderMessageID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderMessageID returns true if id was generated by NewPlaceholderMessageID
func IsPlaceholderMessageID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// IsSent returns true if the notification has been delivered
func (n *NotificationRecord) IsSent() bool {
	return n.Status == NotificationStatusSent
}

// IsStalePending returns true if the record is pending and was last touched
// more than StalePendingThreshold before now
func (n *NotificationRecord) IsStalePending(now time.Time) bool {
	return n.Status == NotificationStatusPending && now.Sub(n.UpdatedAt) > StalePendingThreshold
}

// IsFreshPending returns true if another worker is presumed to own the send
func (n *NotificationRecord) IsFreshPending(now time.Time) bool {
	return n.Status == NotificationStatusPending && !n.IsStalePending(now)
}

// BlocksDispatch returns true if no new send job may be enqueued. A queued
// record means a job already exists for this pair.
func (n *NotificationRecord) BlocksDispatch(now time.Time) bool {
	return n.IsSent() || n.IsFreshPending(now) || n.Status == NotificationStatusQueued
}

// ---------------------------------------------------------------------------
// NotificationRecordRepository Interface
// ---------------------------------------------------------------------------

// NotificationRecordRepository defines persistence operations for notification
// markers. Uniqueness on (order_id, template) is enforced by the store.
type NotificationRecordRepository interface {
	// FindByOrderAndTemplate returns ErrNotificationNotFound when no row exists
	FindByOrderAndTemplate(ctx context.Context, orderID, template string) (*NotificationRecord, error)

	// CreateQueued inserts a queued record; returns ErrDuplicateNotification
	// if a row for the same pair exists
	CreateQueued(ctx context.Context, record *NotificationRecord) error

	// ReclaimStale resets a pending row last updated before cutoff to queued.
	// It returns false if no such row exists, e.g. another worker refreshed it.
	ReclaimStale(ctx context.Context, orderID, template string, cutoff time.Time) (bool, error)

	// ClaimPending atomically moves the pair to pending with the given
	// placeholder message id. It succeeds when no row exists, the row is
	// queued, or the row is pending and was last updated before staleCutoff.
	// It returns false when another worker holds or completed the send.
	ClaimPending(ctx context.Context, orderID, template, placeholderID string, at, staleCutoff time.Time) (bool, error)

	// MarkSent turns the pending claim identified by placeholderID into a
	// sent row carrying the provider message id. When the row no longer
	// holds that claim it changes nothing and returns
	// ErrNotificationAlreadySent, ErrNotificationInFlight or
	// ErrNotificationNotFound, depending on what the row became.
	MarkSent(ctx context.Context, orderID, template, placeholderID, messageID string, at time.Time) error

	// DeletePending removes the pending claim identified by placeholderID. It
	// returns false when the row was reclaimed or completed by another worker.
	DeletePending(ctx context.Context, orderID, template, placeholderID string) (bool, error)
}
