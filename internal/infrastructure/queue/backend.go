package queue

import (
	"context"
	"time"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// Backend stores jobs. Pop leases a ready job; a leased job that is neither
// acked, retried nor dead-lettered before the lease ends becomes ready again,
// which gives at-least-once delivery.
type Backend interface {
	// Push stores the job to become ready at job.RunAt
	Push(ctx context.Context, job *Job) error

	// Pop leases the next ready job of the queue; it returns (nil, nil) when
	// none is ready
	Pop(ctx context.Context, queueName string, lease time.Duration) (*Job, error)

	// Ack removes a completed job
	Ack(ctx context.Context, job *Job) error

	// Retry releases the lease and stores the job to run at job.RunAt
	Retry(ctx context.Context, job *Job) error

	// DeadLetter releases the lease and moves the job to the dead-letter list
	DeadLetter(ctx context.Context, job *Job) error

	// RequeueExpired makes jobs with an expired lease ready again
	RequeueExpired(ctx context.Context, queueName string) (int, error)

	// ListDead returns up to limit dead jobs, newest first
	ListDead(ctx context.Context, queueName string, limit int) ([]*Job, error)

	// TakeDead removes a dead job and returns it
	TakeDead(ctx context.Context, queueName, jobID string) (*Job, error)

	// Close releases resources
	Close() error
}

// Producer enqueues jobs on a Backend
type Producer struct {
	backend Backend
	now     func() time.Time
}

// NewProducer creates a new Producer
func NewProducer(backend Backend) *Producer {
	return &Producer{backend: backend, now: time.Now}
}

// Enqueue implements ordersync.JobQueue
func (p *Producer) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ordersync.EnqueueOptions) (string, error) {
	job, err := NewJob(queueName, jobType, payload, opts, p.now())
	if err != nil {
		return "", err
	}
	if err := p.backend.Push(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// ListDead returns dead jobs of a queue
func (p *Producer) ListDead(ctx context.Context, queueName string, limit int) ([]*Job, error) {
	return p.backend.ListDead(ctx, queueName, limit)
}

// Replay moves a dead job back to its queue with a fresh attempt budget
func (p *Producer) Replay(ctx context.Context, queueName, jobID string) (*Job, error) {
	job, err := p.backend.TakeDead(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}
	job.ResetForReplay(p.now())
	if err := p.backend.Push(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

var _ ordersync.JobQueue = (*Producer)(nil)
