package ordersync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Order
// ---------------------------------------------------------------------------

// ProcessingStatus is the order-level status written back once sync completes
type ProcessingStatus string

const (
	// ProcessingStatusNew is the status of an order that has not been synced yet
	ProcessingStatusNew ProcessingStatus = "new"
	// ProcessingStatusSynced is set when the order has a linked contact
	ProcessingStatusSynced ProcessingStatus = "synced"
)

// String returns the string representation of ProcessingStatus
func (s ProcessingStatus) String() string {
	return string(s)
}

// ClientInfo holds the customer contact details of an order
type ClientInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins first and last name
func (c ClientInfo) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ProductInfo holds the visa product attributes of an order
type ProductInfo struct {
	// Country is the ISO 3166-1 alpha-2 code of the destination country
	Country string
	// Intent is the visa purpose, e.g. "tourist" or "business"
	Intent string
	// Entries is "single" or "multiple"
	Entries string
	// Validity is the free-text validity label, e.g. "month" or "5years"
	Validity string
	// ProcessingDays is the estimate supplied with the order, zero when absent
	ProcessingDays int
	// Quantity is the number of visas ordered, zero when absent
	Quantity int
}

// Order is the ingested order record. The orchestrator reads it and only
// writes the link-back fields SyncRecordID, ProcessingStatus and
// NotificationSent.
type Order struct {
	// ID is the internal row identifier
	ID uuid.UUID
	// OrderID is the unique business identifier
	OrderID string
	// BranchCode is the region/branch the order was placed through
	BranchCode string
	// Client is the customer contact info
	Client ClientInfo
	// Product is the visa product
	Product ProductInfo
	// Amount is the order total
	Amount decimal.Decimal
	// Currency is the ISO 4217 currency code
	Currency string
	// Urgency is the free-text urgency label
	Urgency string
	// AlertsEnabled is the customer's consent for notifications
	AlertsEnabled bool
	// ArrivalDate is the raw arrival date as received
	ArrivalDate string
	// SyncRecordID links the order to its sync record once synced
	SyncRecordID *uuid.UUID
	// ProcessingStatus is written back by the orchestrator
	ProcessingStatus ProcessingStatus
	// NotificationSent is set by the notification job processor
	NotificationSent bool
	// CreatedAt is when the order was ingested
	CreatedAt time.Time
	// UpdatedAt is when the order was last updated
	UpdatedAt time.Time
}

// Validate checks the fields the orchestrator depends on
func (o *Order) Validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return ErrInvalidOrder
	}
	return nil
}

// Identity returns the lookup key for the external contact, preferring phone
func (o *Order) Identity() string {
	if p := NormalizePhone(o.Client.Phone); p != "" {
		return p
	}
	return strings.ToLower(strings.TrimSpace(o.Client.Email))
}

// NormalizePhone strips everything but digits from a phone number
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Branch filter
// ---------------------------------------------------------------------------

// DefaultTargetBranches are the branches whose orders are synced
var DefaultTargetBranches = []string{"il"}

// BranchFilter decides whether an order's branch is in the target region
type BranchFilter struct {
	targets map[string]struct{}
}

// NewBranchFilter creates a filter for the given branch codes
func NewBranchFilter(branches ...string) BranchFilter {
	if len(branches) == 0 {
		branches = DefaultTargetBranches
	}
	targets := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		targets[normalizeBranch(b)] = struct{}{}
	}
	return BranchFilter{targets: targets}
}

// Allows returns true if the branch is in the target region
func (f BranchFilter) Allows(branch string) bool {
	_, ok := f.targets[normalizeBranch(branch)]
	return ok
}

// IsZero returns true for a filter that was never initialized
func (f BranchFilter) IsZero() bool {
	return f.targets == nil
}

func normalizeBranch(b string) string {
	return strings.ToLower(strings.TrimSpace(b))
}

// ---------------------------------------------------------------------------
// OrderRepository Interface
// ---------------------------------------------------------------------------

// PendingOrderFilter selects orders that still need a sync
type PendingOrderFilter struct {
	// UpdatedAfter limits the result to orders updated after this time (optional)
	UpdatedAfter *time.Time
	// AfterOrderID is the keyset cursor; only orders with a greater order_id are returned
	AfterOrderID string
	// Limit is the page size
	Limit int
}

// OrderRepository defines persistence operations for orders
type OrderRepository interface {
	// FindByOrderID finds an order by its business identifier
	FindByOrderID(ctx context.Context, orderID string) (*Order, error)

	// Save inserts or updates an order keyed by order_id
	Save(ctx context.Context, order *Order) error

	// LinkSyncRecord writes the link-back fields after a sync
	LinkSyncRecord(ctx context.Context, orderID string, syncRecordID uuid.UUID, status ProcessingStatus) error

	// MarkNotificationSent sets the order-level notification flag
	MarkNotificationSent(ctx context.Context, orderID string) error

	// FindPendingSync lists orders without a synced sync record, ordered by order_id
	FindPendingSync(ctx context.Context, filter PendingOrderFilter) ([]Order, error)
}
