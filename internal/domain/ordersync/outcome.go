package ordersync

import "time"

// SyncStatus is the reported status of an orchestration run
type SyncStatus string

const (
	// SyncStatusSuccess means the run completed without errors
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusPartial means a contact was obtained but a secondary update failed
	SyncStatusPartial SyncStatus = "partial"
	// SyncStatusFailed means no usable contact was obtained
	SyncStatusFailed SyncStatus = "failed"
)

// SyncAction is what the run did to the external contact
type SyncAction string

const (
	SyncActionCreated SyncAction = "created"
	SyncActionUpdated SyncAction = "updated"
	SyncActionSkipped SyncAction = "skipped"
)

// Skip reasons reported with SyncActionSkipped
const (
	SkipReasonOutsideTargetRegion = "outside_target_region"
	SkipReasonAlreadySynced       = "already_synced"
)

// SyncResult is the value of a successful orchestration run
type SyncResult struct {
	OrderID    string        `json:"order_id"`
	Status     SyncStatus    `json:"status"`
	Action     SyncAction    `json:"action"`
	ContactID  string        `json:"contact_id,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Warning    string        `json:"warning,omitempty"`
	Queued     bool          `json:"notification_queued"`
	Duration   time.Duration `json:"duration"`
}

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	OutcomeOk OutcomeKind = iota
	OutcomeRecoverable
	OutcomeFatal
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of an orchestration step. Recoverable
// outcomes are retried by the queue; fatal ones go to the dead-letter path.
type Outcome struct {
	Kind     OutcomeKind
	Result   SyncResult
	Err      error
	Category ErrorCategory
}

// Ok wraps a successful result
func Ok(result SyncResult) Outcome {
	return Outcome{Kind: OutcomeOk, Result: result}
}

// Recoverable wraps an error that a later retry may resolve
func Recoverable(err error) Outcome {
	return Outcome{Kind: OutcomeRecoverable, Err: err, Category: Categorize(err)}
}

// Fatal wraps an error that retrying will not resolve
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err, Category: Categorize(err)}
}

// IsOk returns true for Ok outcomes
func (o Outcome) IsOk() bool {
	return o.Kind == OutcomeOk
}
