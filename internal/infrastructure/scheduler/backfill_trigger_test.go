package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
)

type recordingRunner struct {
	mu       sync.Mutex
	requests []appsync.BackfillRequest
	err      error
	block    chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, req appsync.BackfillRequest) (appsync.BackfillReport, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	block, err := r.block, r.err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return appsync.BackfillReport{}, ctx.Err()
		}
	}
	if err != nil {
		return appsync.BackfillReport{}, err
	}
	return appsync.BackfillReport{Mode: req.Mode, Scanned: 3, Enqueued: 2, Skipped: 1}, nil
}

func (r *recordingRunner) calls() []appsync.BackfillRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]appsync.BackfillRequest(nil), r.requests...)
}

func TestBackfillTriggerConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBackfillTriggerConfig().Validate())

	cfg := DefaultBackfillTriggerConfig()
	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultBackfillTriggerConfig()
	cfg.Lookback = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := NewBackfillTrigger(BackfillTriggerConfig{}, &recordingRunner{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBackfillTrigger_BootstrapThenIncremental(t *testing.T) {
	runner := &recordingRunner{}
	trigger, err := NewBackfillTrigger(BackfillTriggerConfig{Interval: time.Hour, Lookback: time.Minute, PageSize: 50}, runner, zap.NewNop())
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trigger.now = func() time.Time { return start }

	ctx := context.Background()
	_, err = trigger.RunPass(ctx, trigger.nextRequest())
	require.NoError(t, err)
	_, err = trigger.RunPass(ctx, trigger.nextRequest())
	require.NoError(t, err)

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, appsync.BackfillBootstrap, calls[0].Mode)
	assert.Nil(t, calls[0].After)
	assert.Equal(t, 50, calls[0].PageSize)

	assert.Equal(t, appsync.BackfillIncremental, calls[1].Mode)
	require.NotNil(t, calls[1].After)
	assert.Equal(t, start.Add(-time.Minute), *calls[1].After)

	stats := trigger.Stats()
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, start, stats.LastStart)
	require.NotNil(t, stats.LastReport)
	assert.Equal(t, 2, stats.LastReport.Enqueued)
}

func TestBackfillTrigger_FailedPassKeepsBootstrap(t *testing.T) {
	runner := &recordingRunner{err: errors.New("database is locked")}
	trigger, err := NewBackfillTrigger(DefaultBackfillTriggerConfig(), runner, zap.NewNop())
	require.NoError(t, err)

	_, err = trigger.RunPass(context.Background(), trigger.nextRequest())
	require.Error(t, err)

	assert.Equal(t, appsync.BackfillBootstrap, trigger.nextRequest().Mode)
	assert.Equal(t, "database is locked", trigger.Stats().LastError)
}

func TestBackfillTrigger_RejectsOverlappingPass(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	trigger, err := NewBackfillTrigger(DefaultBackfillTriggerConfig(), runner, zap.NewNop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := trigger.RunPass(context.Background(), trigger.nextRequest())
		done <- err
	}()
	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = trigger.RunPass(context.Background(), appsync.BackfillRequest{Mode: appsync.BackfillBootstrap})
	assert.ErrorIs(t, err, ErrBackfillInProgress)

	close(runner.block)
	assert.NoError(t, <-done)
}

func TestBackfillTrigger_StartStop(t *testing.T) {
	runner := &recordingRunner{}
	trigger, err := NewBackfillTrigger(BackfillTriggerConfig{Interval: 10 * time.Millisecond}, runner, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	require.NoError(t, trigger.Start(context.Background()))
	assert.True(t, trigger.IsRunning())

	require.Eventually(t, func() bool { return len(runner.calls()) >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(ctx))
	require.NoError(t, trigger.Stop(ctx))
	assert.False(t, trigger.IsRunning())

	calls := runner.calls()
	assert.Equal(t, appsync.BackfillBootstrap, calls[0].Mode)
	assert.Equal(t, appsync.BackfillIncremental, calls[1].Mode)
}
