package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

func testPoolConfig() WorkerPoolConfig {
	cfg := DefaultWorkerPoolConfig()
	cfg.Queues = []string{"q"}
	cfg.Concurrency = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	return cfg
}

func newTestPool(t *testing.T) (*WorkerPool, *MemoryBackend, *fakeClock) {
	t.Helper()
	backend, clock := newTestBackend()
	pool, err := NewWorkerPool(testPoolConfig(), backend, zap.NewNop())
	require.NoError(t, err)
	pool.now = clock.Now
	return pool, backend, clock
}

func enqueue(t *testing.T, b *MemoryBackend, clock *fakeClock, maxAttempts int) *Job {
	t.Helper()
	job, err := NewJob("q", "work", map[string]string{"k": "v"}, ordersync.EnqueueOptions{
		MaxAttempts: maxAttempts,
		Backoff:     ordersync.Backoff{Type: ordersync.BackoffExponential, Delay: time.Minute},
	}, clock.now)
	require.NoError(t, err)
	require.NoError(t, b.Push(context.Background(), job))
	return job
}

func TestDefaultWorkerPoolConfig_TimeoutBelowStalePending(t *testing.T) {
	assert.Less(t, DefaultWorkerPoolConfig().JobTimeout, ordersync.StalePendingThreshold)
}

func TestWorkerPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *WorkerPoolConfig)
		wantErr bool
	}{
		{"valid", func(c *WorkerPoolConfig) {}, false},
		{"no queues", func(c *WorkerPoolConfig) { c.Queues = nil }, true},
		{"zero concurrency", func(c *WorkerPoolConfig) { c.Concurrency = 0 }, true},
		{"zero poll interval", func(c *WorkerPoolConfig) { c.PollInterval = 0 }, true},
		{"zero job timeout", func(c *WorkerPoolConfig) { c.JobTimeout = 0 }, true},
		{"lease shorter than timeout", func(c *WorkerPoolConfig) { c.LeaseDuration = c.JobTimeout }, true},
		{"timeout reaches stale pending threshold", func(c *WorkerPoolConfig) { c.JobTimeout = ordersync.StalePendingThreshold }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testPoolConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerPool_RunOnce_Success(t *testing.T) {
	ctx := context.Background()
	pool, backend, clock := newTestPool(t)
	enqueue(t, backend, clock, 3)

	var seen *Job
	pool.Handle("work", func(ctx context.Context, job *Job) error {
		seen = job
		return nil
	})

	processed, err := pool.RunOnce(ctx, "q")
	require.NoError(t, err)
	assert.True(t, processed)
	require.NotNil(t, seen)
	assert.Equal(t, 1, seen.Attempt)
	assert.Equal(t, int64(1), pool.Stats().Succeeded)

	processed, err = pool.RunOnce(ctx, "q")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerPool_RunOnce_RetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	pool, backend, clock := newTestPool(t)
	job := enqueue(t, backend, clock, 3)

	pool.Handle("work", func(ctx context.Context, job *Job) error {
		return errors.New("crm timeout")
	})

	_, err := pool.RunOnce(ctx, "q")
	require.NoError(t, err)

	pending := backend.Pending("q")
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempt)
	assert.Equal(t, "crm timeout", pending[0].LastError)
	assert.Equal(t, clock.now.Add(time.Minute), pending[0].RunAt)

	clock.Advance(time.Minute)
	_, err = pool.RunOnce(ctx, "q")
	require.NoError(t, err)
	pending = backend.Pending("q")
	require.Len(t, pending, 1)
	assert.Equal(t, clock.now.Add(2*time.Minute), pending[0].RunAt)

	clock.Advance(2 * time.Minute)
	_, err = pool.RunOnce(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, backend.Pending("q"))

	dead, err := backend.ListDead(ctx, "q", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempt)
	assert.NotNil(t, dead[0].FailedAt)

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.DeadLettered)
}

func TestWorkerPool_RunOnce_PermanentErrorSkipsRetries(t *testing.T) {
	ctx := context.Background()
	pool, backend, clock := newTestPool(t)
	enqueue(t, backend, clock, 5)

	pool.Handle("work", func(ctx context.Context, job *Job) error {
		return Permanent(ordersync.ErrOrderNotFound)
	})

	_, err := pool.RunOnce(ctx, "q")
	require.NoError(t, err)

	assert.Empty(t, backend.Pending("q"))
	dead, err := backend.ListDead(ctx, "q", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempt)
	assert.Contains(t, dead[0].LastError, "order not found")
}

func TestWorkerPool_RunOnce_UnknownJobType(t *testing.T) {
	ctx := context.Background()
	pool, backend, clock := newTestPool(t)
	enqueue(t, backend, clock, 5)

	_, err := pool.RunOnce(ctx, "q")
	require.NoError(t, err)

	dead, err := backend.ListDead(ctx, "q", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "no handler")
}

func TestWorkerPool_RunOnce_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	pool, backend, clock := newTestPool(t)
	enqueue(t, backend, clock, 2)

	pool.Handle("work", func(ctx context.Context, job *Job) error {
		panic("nil map")
	})

	_, err := pool.RunOnce(ctx, "q")
	require.NoError(t, err)

	pending := backend.Pending("q")
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "handler panic")
}

func TestWorkerPool_StartStop(t *testing.T) {
	backend := NewMemoryBackend()
	pool, err := NewWorkerPool(testPoolConfig(), backend, zap.NewNop())
	require.NoError(t, err)

	var handled atomic.Int32
	pool.Handle("work", func(ctx context.Context, job *Job) error {
		handled.Add(1)
		return nil
	})

	producer := NewProducer(backend)
	for i := 0; i < 5; i++ {
		_, err := producer.Enqueue(context.Background(), "q", "work", map[string]int{"i": i}, ordersync.EnqueueOptions{MaxAttempts: 1})
		require.NoError(t, err)
	}

	require.NoError(t, pool.Start(context.Background()))
	assert.True(t, pool.IsRunning())

	assert.Eventually(t, func() bool { return handled.Load() == 5 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	assert.False(t, pool.IsRunning())
	assert.ErrorIs(t, pool.Stop(stopCtx), ErrPoolNotRunning)
}
