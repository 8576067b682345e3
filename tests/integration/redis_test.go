package integration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/queue"
)

func TestRedisBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tr := NewTestRedis(t)
	backend := queue.NewRedisBackendWithClient(tr.Client, tr.Config.KeyPrefix)
	producer := queue.NewProducer(backend)
	ctx := context.Background()

	t.Run("Pop honors delay and order", func(t *testing.T) {
		later, err := producer.Enqueue(ctx, "it-order", ordersync.JobTypeSyncOrder,
			ordersync.SyncOrderJob{OrderID: "IL-2"}, ordersync.EnqueueOptions{Delay: time.Hour})
		require.NoError(t, err)
		first, err := producer.Enqueue(ctx, "it-order", ordersync.JobTypeSyncOrder,
			ordersync.SyncOrderJob{OrderID: "IL-1"}, ordersync.EnqueueOptions{MaxAttempts: 3})
		require.NoError(t, err)

		job, err := backend.Pop(ctx, "it-order", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, first, job.ID)
		assert.Equal(t, 3, job.MaxAttempts)

		var payload ordersync.SyncOrderJob
		require.NoError(t, job.Decode(&payload))
		assert.Equal(t, "IL-1", payload.OrderID)

		none, err := backend.Pop(ctx, "it-order", time.Minute)
		require.NoError(t, err)
		assert.Nil(t, none, "job %s must stay delayed", later)

		require.NoError(t, backend.Ack(ctx, job))
	})

	t.Run("Expired lease makes job ready again", func(t *testing.T) {
		_, err := producer.Enqueue(ctx, "it-lease", ordersync.JobTypeSyncOrder,
			ordersync.SyncOrderJob{OrderID: "IL-3"}, ordersync.EnqueueOptions{})
		require.NoError(t, err)

		job, err := backend.Pop(ctx, "it-lease", 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)

		time.Sleep(30 * time.Millisecond)
		n, err := backend.RequeueExpired(ctx, "it-lease")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		again, err := backend.Pop(ctx, "it-lease", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, job.ID, again.ID)
		require.NoError(t, backend.Ack(ctx, again))
	})

	t.Run("Dead letter and replay", func(t *testing.T) {
		id, err := producer.Enqueue(ctx, "it-dead", ordersync.JobTypeSendOrderConfirmation,
			ordersync.NotificationJob{OrderID: "IL-4", Template: "order_confirmation"}, ordersync.EnqueueOptions{MaxAttempts: 1})
		require.NoError(t, err)

		job, err := backend.Pop(ctx, "it-dead", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		job.Attempt = 1
		job.Fail(errors.New("validation: phone"), time.Now())
		require.NoError(t, backend.DeadLetter(ctx, job))

		dead, err := producer.ListDead(ctx, "it-dead", 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, id, dead[0].ID)
		assert.Equal(t, "validation: phone", dead[0].LastError)

		replayed, err := producer.Replay(ctx, "it-dead", id)
		require.NoError(t, err)
		assert.Zero(t, replayed.Attempt)

		_, err = producer.Replay(ctx, "it-dead", id)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		ready, err := backend.Pop(ctx, "it-dead", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, ready)
		assert.Equal(t, id, ready.ID)
		assert.Empty(t, ready.LastError)
	})

	t.Run("Worker pool drains queue", func(t *testing.T) {
		pool, err := queue.NewWorkerPool(queue.WorkerPoolConfig{
			Queues:        []string{"it-pool"},
			Concurrency:   2,
			PollInterval:  10 * time.Millisecond,
			JobTimeout:    time.Second,
			LeaseDuration: 5 * time.Second,
			ReapInterval:  time.Second,
		}, backend, zaptest.NewLogger(t))
		require.NoError(t, err)

		var handled atomic.Int32
		pool.Handle(ordersync.JobTypeSyncOrder, func(ctx context.Context, job *queue.Job) error {
			handled.Add(1)
			return nil
		})

		for i := 0; i < 5; i++ {
			_, err := producer.Enqueue(ctx, "it-pool", ordersync.JobTypeSyncOrder,
				ordersync.SyncOrderJob{OrderID: "IL-5"}, ordersync.EnqueueOptions{})
			require.NoError(t, err)
		}

		require.NoError(t, pool.Start(ctx))
		assert.Eventually(t, func() bool { return handled.Load() == 5 }, 5*time.Second, 20*time.Millisecond)

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, pool.Stop(stopCtx))
	})
}

func TestRedisIdempotencyStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tr := NewTestRedis(t)
	ctx := context.Background()

	store, err := cache.OpenIdempotencyStore(ctx, tr.Config,
		cache.WithRedisClient(tr.Client),
		cache.WithInMemoryFallback(false),
	)
	require.NoError(t, err)
	assert.IsType(t, &cache.RedisIdempotencyStore{}, store)

	ok, err := store.Reserve(ctx, "ingest:k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "ingest:k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	result, found, err := store.Lookup(ctx, "ingest:k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, result)

	require.NoError(t, store.Complete(ctx, "ingest:k1", `{"order_id":"IL-1"}`, time.Minute))
	result, found, err = store.Lookup(ctx, "ingest:k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"order_id":"IL-1"}`, result)

	require.NoError(t, store.Release(ctx, "ingest:k1"))
	_, found, err = store.Lookup(ctx, "ingest:k1")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = store.Reserve(ctx, "ingest:short", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		ok, err := store.Reserve(ctx, "ingest:short", time.Minute)
		return err == nil && ok
	}, 2*time.Second, 25*time.Millisecond)

	require.NoError(t, store.Close())
	require.NoError(t, tr.Client.Ping(ctx).Err(), "a shared client stays open")
}
