package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// MaxRetryDelay caps the exponential backoff
const MaxRetryDelay = 30 * time.Minute

// Job is the envelope stored by every backend
type Job struct {
	ID          string            `json:"id"`
	Queue       string            `json:"queue"`
	Type        string            `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"max_attempts"`
	Backoff     ordersync.Backoff `json:"backoff"`
	RunAt       time.Time         `json:"run_at"`
	CreatedAt   time.Time         `json:"created_at"`
	LastError   string            `json:"last_error,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
}

// NewJob builds a job ready to run after opts.Delay
func NewJob(queueName, jobType string, payload any, opts ordersync.EnqueueOptions, now time.Time) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     data,
		MaxAttempts: maxAttempts,
		Backoff:     opts.Backoff,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}, nil
}

// Decode unmarshals the payload into v
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ordersync.ErrInvalidJobPayload, err)
	}
	return nil
}

// ShouldRetry returns true if another delivery is allowed
func (j *Job) ShouldRetry() bool {
	return j.Attempt < j.MaxAttempts
}

// RetryDelay is the wait before the next delivery. Exponential backoff
// doubles the base delay per attempt: delay * 2^(attempt-1).
func (j *Job) RetryDelay() time.Duration {
	base := j.Backoff.Delay
	if base <= 0 {
		base = time.Second
	}
	if j.Backoff.Type != ordersync.BackoffExponential || j.Attempt <= 1 {
		return base
	}
	shift := j.Attempt - 1
	if shift > 20 {
		return MaxRetryDelay
	}
	delay := base * time.Duration(1<<shift)
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}

// ScheduleRetry records the failure and moves RunAt forward
func (j *Job) ScheduleRetry(err error, now time.Time) {
	j.LastError = err.Error()
	j.RunAt = now.Add(j.RetryDelay())
}

// Fail records the terminal failure
func (j *Job) Fail(err error, now time.Time) {
	j.LastError = err.Error()
	j.FailedAt = &now
}

// ResetForReplay clears attempt bookkeeping of a dead job
func (j *Job) ResetForReplay(now time.Time) {
	j.Attempt = 0
	j.LastError = ""
	j.FailedAt = nil
	j.RunAt = now
}

// Handler processes one job delivery
type Handler func(ctx context.Context, job *Job) error

// Registry binds job types to handlers
type Registry interface {
	Handle(jobType string, handler Handler)
}
