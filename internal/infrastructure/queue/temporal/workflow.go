package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

const (
	// WorkflowName is the registered name of the delivery workflow
	WorkflowName = "DeliverJob"
	// ActivityName is the registered name of the handler activity
	ActivityName = "HandleJob"
	// PermanentErrorType tags non-retryable application errors
	PermanentErrorType = "PermanentJobError"
	// DefaultActivityTimeout bounds a single handler run
	DefaultActivityTimeout = 2 * time.Minute
)

// DeliveryInput is the workflow argument
type DeliveryInput struct {
	Job             queue.Job     `json:"job"`
	ActivityTimeout time.Duration `json:"activity_timeout"`
}

// RetryPolicyFor maps the job's attempt budget and backoff to a Temporal policy
func RetryPolicyFor(job queue.Job) *sdktemporal.RetryPolicy {
	initial := job.Backoff.Delay
	if initial <= 0 {
		initial = time.Second
	}
	coefficient := 1.0
	if job.Backoff.Type == ordersync.BackoffExponential {
		coefficient = 2.0
	}
	attempts := job.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &sdktemporal.RetryPolicy{
		InitialInterval:        initial,
		BackoffCoefficient:     coefficient,
		MaximumInterval:        queue.MaxRetryDelay,
		MaximumAttempts:        int32(attempts),
		NonRetryableErrorTypes: []string{PermanentErrorType},
	}
}

// DeliverJobWorkflow waits until the job is due, then runs the handler
// activity under the job's retry policy.
func DeliverJobWorkflow(ctx workflow.Context, input DeliveryInput) error {
	logger := workflow.GetLogger(ctx)
	job := input.Job

	if wait := job.RunAt.Sub(workflow.Now(ctx)); wait > 0 {
		logger.Debug("Delaying job", "job_id", job.ID, "wait", wait)
		if err := workflow.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	timeout := input.ActivityTimeout
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         RetryPolicyFor(job),
	})

	if err := workflow.ExecuteActivity(ctx, ActivityName, job).Get(ctx, nil); err != nil {
		logger.Error("Job failed", "job_id", job.ID, "job_type", job.Type, "error", err)
		return err
	}
	logger.Info("Job completed", "job_id", job.ID, "job_type", job.Type)
	return nil
}

// Activities dispatches job deliveries to registered handlers
type Activities struct {
	mu       sync.RWMutex
	handlers map[string]queue.Handler
	logger   *zap.Logger
}

// NewActivities creates an empty handler set
func NewActivities(logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		handlers: make(map[string]queue.Handler),
		logger:   logger,
	}
}

// Handle implements queue.Registry
func (a *Activities) Handle(jobType string, handler queue.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[jobType] = handler
}

// HandleJob runs the handler for one attempt. Permanent failures become
// non-retryable application errors.
func (a *Activities) HandleJob(ctx context.Context, job queue.Job) error {
	a.mu.RLock()
	handler, ok := a.handlers[job.Type]
	a.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: %s", queue.ErrNoHandler, job.Type)
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), PermanentErrorType, err)
	}

	if activity.IsActivity(ctx) {
		job.Attempt = int(activity.GetInfo(ctx).Attempt)
	}

	err := handler(ctx, &job)
	if err == nil {
		return nil
	}

	a.logger.Warn("Job attempt failed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)

	var permanent *queue.PermanentError
	if errors.As(err, &permanent) {
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), PermanentErrorType, permanent.Err)
	}
	return err
}

var _ queue.Registry = (*Activities)(nil)
