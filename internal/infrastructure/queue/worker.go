package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/logger"
)

// ---------------------------------------------------------------------------
// WorkerPoolConfig
// ---------------------------------------------------------------------------

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	// Queues are the queue names polled by the pool
	Queues []string
	// Concurrency is the number of workers per queue
	Concurrency int
	// PollInterval is the wait between polls when a queue is empty
	PollInterval time.Duration
	// JobTimeout is the maximum time a single delivery can run
	JobTimeout time.Duration
	// LeaseDuration is how long a popped job stays invisible to other workers
	LeaseDuration time.Duration
	// ReapInterval is how often expired leases are requeued
	ReapInterval time.Duration
}

// DefaultWorkerPoolConfig returns default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Concurrency:   5,
		PollInterval:  time.Second,
		JobTimeout:    90 * time.Second,
		LeaseDuration: 5 * time.Minute,
		ReapInterval:  30 * time.Second,
	}
}

// Validate validates the configuration
func (c *WorkerPoolConfig) Validate() error {
	if len(c.Queues) == 0 {
		return fmt.Errorf("%w: no queues", ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 || c.ReapInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	// A send still running when its pending marker turns stale can be
	// reclaimed and repeated by another worker.
	if c.JobTimeout >= ordersync.StalePendingThreshold {
		return fmt.Errorf("%w: job timeout must be below the pending marker threshold (%s)",
			ErrInvalidConfig, ordersync.StalePendingThreshold)
	}
	if c.LeaseDuration <= c.JobTimeout {
		return fmt.Errorf("%w: lease must outlast the job timeout", ErrInvalidConfig)
	}
	return nil
}

// ---------------------------------------------------------------------------
// WorkerPool
// ---------------------------------------------------------------------------

// PoolStats counts job outcomes since the pool was created
type PoolStats struct {
	Succeeded    int64
	Retried      int64
	DeadLettered int64
}

// WorkerPool polls a Backend and runs registered handlers
type WorkerPool struct {
	config  WorkerPoolConfig
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	succeeded    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config WorkerPoolConfig, backend Backend, logger *zap.Logger) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config:   config,
		backend:  backend,
		logger:   logger,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}, nil
}

// Handle implements Registry
func (p *WorkerPool) Handle(jobType string, handler Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[jobType] = handler
}

func (p *WorkerPool) handler(jobType string) (Handler, bool) {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// Start starts the workers and the lease reaper
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, queueName := range p.config.Queues {
		for i := 0; i < p.config.Concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, queueName, i)
		}
	}

	p.wg.Add(1)
	go p.reaper(ctx)

	p.logger.Info("Worker pool started",
		zap.Strings("queues", p.config.Queues),
		zap.Int("concurrency", p.config.Concurrency),
		zap.Duration("job_timeout", p.config.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the pool, waiting for in-flight jobs
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return ErrPoolNotRunning
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the pool has been started
func (p *WorkerPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// Stats returns outcome counters
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Succeeded:    p.succeeded.Load(),
		Retried:      p.retried.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

func (p *WorkerPool) worker(ctx context.Context, queueName string, workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Queue worker started",
		zap.String("queue", queueName),
		zap.Int("worker_id", workerID),
	)

	for {
		if ctx.Err() != nil {
			p.logger.Debug("Queue worker stopping",
				zap.String("queue", queueName),
				zap.Int("worker_id", workerID),
			)
			return
		}

		processed, err := p.RunOnce(ctx, queueName)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Queue poll failed",
				zap.String("queue", queueName),
				zap.Error(err),
			)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(p.config.PollInterval):
		}
	}
}

func (p *WorkerPool) reaper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, queueName := range p.config.Queues {
				n, err := p.backend.RequeueExpired(ctx, queueName)
				if err != nil {
					p.logger.Warn("Failed to requeue expired jobs",
						zap.String("queue", queueName),
						zap.Error(err),
					)
					continue
				}
				if n > 0 {
					p.logger.Info("Requeued jobs with expired lease",
						zap.String("queue", queueName),
						zap.Int("count", n),
					)
				}
			}
		}
	}
}

// RunOnce pops and processes at most one ready job of the queue. It reports
// whether a job was processed.
func (p *WorkerPool) RunOnce(ctx context.Context, queueName string) (bool, error) {
	job, err := p.backend.Pop(ctx, queueName, p.config.LeaseDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.processJob(ctx, job)
	return true, nil
}

// processJob runs one delivery and settles the job
func (p *WorkerPool) processJob(ctx context.Context, job *Job) {
	job.Attempt++

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
	}

	err := p.execute(ctx, job)
	now := p.now()

	// Settle with a fresh context so a cancelled pool still records the outcome.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		if ackErr := p.backend.Ack(settleCtx, job); ackErr != nil {
			p.logger.Error("Failed to ack job", append(fields, zap.Error(ackErr))...)
			return
		}
		p.succeeded.Add(1)
		p.logger.Debug("Job completed", fields...)
		return
	}

	if !IsPermanent(err) && job.ShouldRetry() {
		job.ScheduleRetry(err, now)
		if retryErr := p.backend.Retry(settleCtx, job); retryErr != nil {
			p.logger.Error("Failed to schedule job retry", append(fields, zap.Error(retryErr))...)
			return
		}
		p.retried.Add(1)
		p.logger.Warn("Job failed, scheduled for retry",
			append(fields, zap.Time("next_run_at", job.RunAt), zap.Error(err))...,
		)
		return
	}

	job.Fail(err, now)
	if dlErr := p.backend.DeadLetter(settleCtx, job); dlErr != nil {
		p.logger.Error("Failed to dead-letter job", append(fields, zap.Error(dlErr))...)
		return
	}
	p.deadLettered.Add(1)
	p.logger.Error("Job moved to dead-letter list",
		append(fields, zap.Bool("permanent", IsPermanent(err)), zap.Error(err))...,
	)
}

func (p *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	handler, ok := p.handler(job.Type)
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()
	jobCtx, _ = logger.WithJobID(jobCtx, p.logger.With(
		zap.String("queue", job.Queue),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
	), job.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(jobCtx, job)
}

var _ Registry = (*WorkerPool)(nil)
