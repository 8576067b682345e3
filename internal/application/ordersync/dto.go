package ordersync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// IngestOrderRequest is an order as accepted by the ingest endpoint
type IngestOrderRequest struct {
	OrderID        string          `json:"order_id" binding:"required,max=64"`
	BranchCode     string          `json:"branch_code" binding:"required,max=8"`
	FirstName      string          `json:"first_name" binding:"max=100"`
	LastName       string          `json:"last_name" binding:"max=100"`
	Email          string          `json:"email" binding:"omitempty,email"`
	Phone          string          `json:"phone" binding:"required_without=Email,max=32"`
	Country        string          `json:"country" binding:"required,len=2"`
	Intent         string          `json:"intent" binding:"max=32"`
	Entries        string          `json:"entries" binding:"omitempty,oneof=single multiple"`
	Validity       string          `json:"validity" binding:"max=32"`
	ProcessingDays int             `json:"processing_days" binding:"gte=0,lte=365"`
	Quantity       int             `json:"quantity" binding:"gte=0,lte=100"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"omitempty,len=3"`
	Urgency        string          `json:"urgency" binding:"max=32"`
	AlertsEnabled  bool            `json:"alerts_enabled"`
	ArrivalDate    string          `json:"arrival_date" binding:"max=32"`
}

// ToOrder converts the request to a domain order
func (r IngestOrderRequest) ToOrder() *ordersync.Order {
	return &ordersync.Order{
		OrderID:    r.OrderID,
		BranchCode: r.BranchCode,
		Client: ordersync.ClientInfo{
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Email:     r.Email,
			Phone:     r.Phone,
		},
		Product: ordersync.ProductInfo{
			Country:        r.Country,
			Intent:         r.Intent,
			Entries:        r.Entries,
			Validity:       r.Validity,
			ProcessingDays: r.ProcessingDays,
			Quantity:       r.Quantity,
		},
		Amount:           r.Amount,
		Currency:         r.Currency,
		Urgency:          r.Urgency,
		AlertsEnabled:    r.AlertsEnabled,
		ArrivalDate:      r.ArrivalDate,
		ProcessingStatus: ordersync.ProcessingStatusNew,
	}
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// EnqueueResponse reports the job created for an order
type EnqueueResponse struct {
	OrderID string `json:"order_id"`
	JobID   string `json:"job_id"`
}

// SyncRecordResponse is the sync record in API responses
type SyncRecordResponse struct {
	ID               uuid.UUID                  `json:"id"`
	ContactID        *string                    `json:"contact_id,omitempty"`
	Synced           bool                       `json:"synced"`
	AttemptCount     int                        `json:"attempt_count"`
	ErrorCount       int                        `json:"error_count"`
	LastError        string                     `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time                 `json:"last_attempt_at,omitempty"`
	Localized        ordersync.LocalizedStrings `json:"localized"`
	AlertsEnabled    bool                       `json:"alerts_enabled"`
	NotificationSent bool                       `json:"notification_sent"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// NotificationResponse is the notification record in API responses
type NotificationResponse struct {
	Template  string                       `json:"template"`
	Status    ordersync.NotificationStatus `json:"status"`
	MessageID string                       `json:"message_id,omitempty"`
	SentAt    *time.Time                   `json:"sent_at,omitempty"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// SyncStatusResponse is the combined sync state of one order
type SyncStatusResponse struct {
	OrderID          string                     `json:"order_id"`
	BranchCode       string                     `json:"branch_code"`
	ProcessingStatus ordersync.ProcessingStatus `json:"processing_status"`
	NotificationSent bool                       `json:"notification_sent"`
	SyncRecord       *SyncRecordResponse        `json:"sync_record,omitempty"`
	Notification     *NotificationResponse      `json:"notification,omitempty"`
}

// SyncResultResponse is the result of an inline sync
type SyncResultResponse struct {
	OrderID       string `json:"order_id"`
	Outcome       string `json:"outcome"`
	Status        string `json:"status"`
	Action        string `json:"action,omitempty"`
	ContactID     string `json:"contact_id,omitempty"`
	SkipReason    string `json:"skip_reason,omitempty"`
	Warning       string `json:"warning,omitempty"`
	Queued        bool   `json:"notification_queued"`
	Error         string `json:"error,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// ToSyncResultResponse converts an outcome for display
func ToSyncResultResponse(o ordersync.Outcome) SyncResultResponse {
	resp := SyncResultResponse{
		OrderID:    o.Result.OrderID,
		Outcome:    o.Kind.String(),
		Status:     string(o.Result.Status),
		Action:     string(o.Result.Action),
		ContactID:  o.Result.ContactID,
		SkipReason: o.Result.SkipReason,
		Warning:    o.Result.Warning,
		Queued:     o.Result.Queued,
		DurationMs: o.Result.Duration.Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
		resp.ErrorCategory = o.Category.String()
	}
	return resp
}

func toSyncRecordResponse(r *ordersync.SyncRecord) *SyncRecordResponse {
	return &SyncRecordResponse{
		ID:               r.ID,
		ContactID:        r.ContactID,
		Synced:           r.Synced,
		AttemptCount:     r.AttemptCount,
		ErrorCount:       r.ErrorCount,
		LastError:        r.LastError,
		LastAttemptAt:    r.LastAttemptAt,
		Localized:        r.Localized,
		AlertsEnabled:    r.AlertsEnabled,
		NotificationSent: r.NotificationSent,
		UpdatedAt:        r.UpdatedAt,
	}
}

func toNotificationResponse(n *ordersync.NotificationRecord) *NotificationResponse {
	return &NotificationResponse{
		Template:  n.Template,
		Status:    n.Status,
		MessageID: n.MessageID,
		SentAt:    n.SentAt,
		UpdatedAt: n.UpdatedAt,
	}
}
