package ordersync

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// External contact API
// ---------------------------------------------------------------------------

// Contact is a contact record in the external contact-management system
type Contact struct {
	ID           string            `json:"id"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Language     string            `json:"language,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// ContactPayload is the attribute set written to the external contact.
// Core fields can only be set on create; updates touch CustomFields only.
type ContactPayload struct {
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Language     string            `json:"language"`
	CustomFields map[string]string `json:"custom_fields"`
}

// ContactAPI is the port to the external contact-management system.
// Error messages must carry enough text to categorize the failure.
type ContactAPI interface {
	// FindByIdentity returns ErrContactNotFound when no contact matches
	FindByIdentity(ctx context.Context, identity string) (*Contact, error)

	// Create creates a new contact
	Create(ctx context.Context, payload ContactPayload) (*Contact, error)

	// UpdateCustomFields updates the custom attributes of an existing contact
	UpdateCustomFields(ctx context.Context, contactID string, fields map[string]string) (*Contact, error)

	// CheckChannelAvailability reports whether the messaging channel can reach the identity
	CheckChannelAvailability(ctx context.Context, identity string) (bool, error)
}

// SyncAttemptResult is the normalized outcome of a contact upsert
type SyncAttemptResult struct {
	// Contact is the contact that exists after the attempt, nil if none
	Contact *Contact
	// IsNewContact is true if the contact was created by this attempt
	IsNewContact bool
	// Error is the message of a recovered failure, empty on success
	Error string
}

// HasUsableContact returns true if a contact with an id was obtained
func (r SyncAttemptResult) HasUsableContact() bool {
	return r.Contact != nil && r.Contact.ID != ""
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// SendRequest is a templated message to a contact
type SendRequest struct {
	OrderID   string            `json:"order_id"`
	ContactID string            `json:"contact_id"`
	Template  string            `json:"template"`
	Locale    string            `json:"locale"`
	Variables map[string]string `json:"variables,omitempty"`
}

// MessageSender sends templated messages through the external provider
type MessageSender interface {
	// Send delivers the message and returns the provider-assigned message id
	Send(ctx context.Context, req SendRequest) (string, error)
}

// ---------------------------------------------------------------------------
// Request deduplication
// ---------------------------------------------------------------------------

// IdempotencyStore remembers client-supplied idempotency keys and the result
// recorded for them
type IdempotencyStore interface {
	// Reserve claims key for ttl. It returns false when the key is already
	// reserved or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Complete records the result for a reserved key
	Complete(ctx context.Context, key, result string, ttl time.Duration) error

	// Lookup returns the recorded result. found is false for unknown or
	// expired keys; an empty result with found set means the key is still
	// reserved by an in-flight request.
	Lookup(ctx context.Context, key string) (result string, found bool, err error)

	// Release forgets key so the request can be retried
	Release(ctx context.Context, key string) error

	// Close releases resources held by the store
	Close() error
}

// ---------------------------------------------------------------------------
// Job queue
// ---------------------------------------------------------------------------

// Queue and job names
const (
	QueueOrderSync     = "order-sync"
	QueueNotifications = "notifications"

	JobTypeSyncOrder             = "sync_order"
	JobTypeSendOrderConfirmation = "send_order_confirmation"
)

// BackoffType is the retry delay growth strategy
type BackoffType string

const (
	// BackoffExponential doubles the delay on every retry
	BackoffExponential BackoffType = "exponential"
	// BackoffFixed keeps the delay constant
	BackoffFixed BackoffType = "fixed"
)

// Backoff configures retry delays
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// EnqueueOptions controls delivery of a job
type EnqueueOptions struct {
	// Delay before the first delivery
	Delay time.Duration
	// MaxAttempts bounds the total number of deliveries
	MaxAttempts int
	// Backoff is applied between failed deliveries
	Backoff Backoff
}

// JobQueue is the port to the asynchronous job transport.
// Delivery is at least once; no ordering is guaranteed across queues.
type JobQueue interface {
	// Enqueue schedules a job and returns its id
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts EnqueueOptions) (string, error)
}

// SyncOrderJob is the payload of a sync_order job
type SyncOrderJob struct {
	OrderID string `json:"order_id"`
}

// NotificationJob is the payload of a send_order_confirmation job
type NotificationJob struct {
	OrderID   string `json:"order_id"`
	ContactID string `json:"contact_id"`
	Template  string `json:"template"`
	Locale    string `json:"locale"`
}
