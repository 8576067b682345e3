package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

// Config holds Temporal connection and worker configuration
type Config struct {
	HostPort                string
	Namespace               string
	TaskQueue               string
	ActivityTimeout         time.Duration
	MaxConcurrentActivities int
	MaxConcurrentWorkflows  int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HostPort:                client.DefaultHostPort,
		Namespace:               client.DefaultNamespace,
		TaskQueue:               "ordersync",
		ActivityTimeout:         DefaultActivityTimeout,
		MaxConcurrentActivities: 20,
		MaxConcurrentWorkflows:  20,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HostPort == "" {
		return fmt.Errorf("%w: temporal host_port is required", queue.ErrInvalidConfig)
	}
	if c.TaskQueue == "" {
		return fmt.Errorf("%w: temporal task_queue is required", queue.ErrInvalidConfig)
	}
	if c.ActivityTimeout <= 0 {
		return fmt.Errorf("%w: temporal activity_timeout must be positive", queue.ErrInvalidConfig)
	}
	return nil
}

// Dial connects to the Temporal frontend
func Dial(cfg Config) (client.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Enqueuer
// ---------------------------------------------------------------------------

// Enqueuer starts one delivery workflow per job
type Enqueuer struct {
	client client.Client
	config Config
	now    func() time.Time
}

// NewEnqueuer creates an Enqueuer over a connected client
func NewEnqueuer(c client.Client, cfg Config) *Enqueuer {
	return &Enqueuer{client: c, config: cfg, now: time.Now}
}

// WorkflowID is the id of the workflow delivering a job
func WorkflowID(job *queue.Job) string {
	return fmt.Sprintf("ordersync-%s-%s", job.Queue, job.ID)
}

// Enqueue implements ordersync.JobQueue
func (e *Enqueuer) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ordersync.EnqueueOptions) (string, error) {
	job, err := queue.NewJob(queueName, jobType, payload, opts, e.now())
	if err != nil {
		return "", err
	}

	options := client.StartWorkflowOptions{
		ID:        WorkflowID(job),
		TaskQueue: e.config.TaskQueue,
	}
	input := DeliveryInput{Job: *job, ActivityTimeout: e.config.ActivityTimeout}

	if _, err := e.client.ExecuteWorkflow(ctx, options, WorkflowName, input); err != nil {
		return "", fmt.Errorf("unable to start delivery workflow: %w", err)
	}
	return job.ID, nil
}

var _ ordersync.JobQueue = (*Enqueuer)(nil)

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// Worker hosts the delivery workflow and handler activity
type Worker struct {
	activities *Activities
	worker     worker.Worker
	config     Config
	logger     *zap.Logger
}

// NewWorker creates a worker on the configured task queue
func NewWorker(c client.Client, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	acts := NewActivities(logger)

	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.MaxConcurrentWorkflows,
	})
	w.RegisterWorkflowWithOptions(DeliverJobWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.HandleJob, activity.RegisterOptions{Name: ActivityName})

	return &Worker{activities: acts, worker: w, config: cfg, logger: logger}
}

// Handle implements queue.Registry
func (w *Worker) Handle(jobType string, handler queue.Handler) {
	w.activities.Handle(jobType, handler)
}

// Start starts polling the task queue
func (w *Worker) Start(ctx context.Context) error {
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("unable to start Temporal worker: %w", err)
	}
	w.logger.Info("Temporal worker started",
		zap.String("task_queue", w.config.TaskQueue),
		zap.String("namespace", w.config.Namespace),
	)
	return nil
}

// Stop stops the worker, waiting for running activities
func (w *Worker) Stop(ctx context.Context) error {
	w.worker.Stop()
	w.logger.Info("Temporal worker stopped")
	return nil
}

var _ queue.Registry = (*Worker)(nil)
