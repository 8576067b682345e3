package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryQueue struct {
	delayed  map[string]*Job
	inflight map[string]time.Time
	dead     []*Job
}

// MemoryBackend keeps jobs in process memory.
// Suitable for single-instance deployments and tests; jobs are lost on restart.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	jobs   map[string]*Job
	closed bool
	now    func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		queues: make(map[string]*memoryQueue),
		jobs:   make(map[string]*Job),
		now:    time.Now,
	}
}

func (b *MemoryBackend) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			delayed:  make(map[string]*Job),
			inflight: make(map[string]time.Time),
		}
		b.queues[name] = q
	}
	return q
}

// Push implements Backend
func (b *MemoryBackend) Push(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	clone := *job
	q := b.queue(job.Queue)
	delete(q.inflight, job.ID)
	q.delayed[job.ID] = &clone
	b.jobs[job.ID] = &clone
	return nil
}

// Pop implements Backend; among ready jobs the earliest RunAt wins
func (b *MemoryBackend) Pop(ctx context.Context, queueName string, lease time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrQueueClosed
	}
	q := b.queue(queueName)
	now := b.now()

	var next *Job
	for _, job := range q.delayed {
		if job.RunAt.After(now) {
			continue
		}
		if next == nil || job.RunAt.Before(next.RunAt) || (job.RunAt.Equal(next.RunAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	delete(q.delayed, next.ID)
	q.inflight[next.ID] = now.Add(lease)
	clone := *next
	return &clone, nil
}

// Ack implements Backend
func (b *MemoryBackend) Ack(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queue(job.Queue).inflight, job.ID)
	delete(b.jobs, job.ID)
	return nil
}

// Retry implements Backend
func (b *MemoryBackend) Retry(ctx context.Context, job *Job) error {
	return b.Push(ctx, job)
}

// DeadLetter implements Backend
func (b *MemoryBackend) DeadLetter(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	delete(q.inflight, job.ID)
	delete(q.delayed, job.ID)
	delete(b.jobs, job.ID)
	clone := *job
	q.dead = append([]*Job{&clone}, q.dead...)
	return nil
}

// RequeueExpired implements Backend
func (b *MemoryBackend) RequeueExpired(ctx context.Context, queueName string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queueName)
	now := b.now()
	count := 0
	for id, deadline := range q.inflight {
		if deadline.After(now) {
			continue
		}
		delete(q.inflight, id)
		if job, ok := b.jobs[id]; ok {
			q.delayed[id] = job
			count++
		}
	}
	return count, nil
}

// ListDead implements Backend
func (b *MemoryBackend) ListDead(ctx context.Context, queueName string, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dead := b.queue(queueName).dead
	if limit <= 0 || limit > len(dead) {
		limit = len(dead)
	}
	result := make([]*Job, 0, limit)
	for _, job := range dead[:limit] {
		clone := *job
		result = append(result, &clone)
	}
	return result, nil
}

// TakeDead implements Backend
func (b *MemoryBackend) TakeDead(ctx context.Context, queueName, jobID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queueName)
	for i, job := range q.dead {
		if job.ID == jobID {
			q.dead = append(q.dead[:i], q.dead[i+1:]...)
			return job, nil
		}
	}
	return nil, ErrJobNotFound
}

// Pending returns the jobs waiting in a queue, ordered by RunAt.
func (b *MemoryBackend) Pending(queueName string) []*Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queueName)
	result := make([]*Job, 0, len(q.delayed))
	for _, job := range q.delayed {
		clone := *job
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RunAt.Before(result[j].RunAt) })
	return result
}

// Close implements Backend
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
