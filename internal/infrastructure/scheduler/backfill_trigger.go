// Package scheduler runs periodic background passes of the order sync worker.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
)

// BackfillRunner runs one backfill pass
type BackfillRunner interface {
	Run(ctx context.Context, req appsync.BackfillRequest) (appsync.BackfillReport, error)
}

// ---------------------------------------------------------------------------
// BackfillTriggerConfig
// ---------------------------------------------------------------------------

// BackfillTriggerConfig holds configuration for the backfill trigger
type BackfillTriggerConfig struct {
	// Interval is the wait between two passes
	Interval time.Duration

	// Lookback widens each incremental window so orders updated while the
	// previous pass was running are not missed
	Lookback time.Duration

	// PageSize is the number of orders read per page
	PageSize int

	// RunTimeout bounds a single pass
	RunTimeout time.Duration
}

// DefaultBackfillTriggerConfig returns default configuration
func DefaultBackfillTriggerConfig() BackfillTriggerConfig {
	return BackfillTriggerConfig{
		Interval:   10 * time.Minute,
		Lookback:   5 * time.Minute,
		PageSize:   appsync.DefaultBackfillPageSize,
		RunTimeout: 5 * time.Minute,
	}
}

// Validate validates the configuration
func (c BackfillTriggerConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidConfig
	}
	if c.Lookback < 0 || c.PageSize < 0 || c.RunTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// TriggerStats reports the state of the trigger
type TriggerStats struct {
	Running    bool
	Runs       int
	LastStart  time.Time
	LastReport *appsync.BackfillReport
	LastError  string
}

// ---------------------------------------------------------------------------
// BackfillTrigger
// ---------------------------------------------------------------------------

// BackfillTrigger runs a bootstrap pass on start and an incremental pass
// every interval after that. The incremental window starts at the previous
// pass start minus the lookback.
type BackfillTrigger struct {
	config BackfillTriggerConfig
	runner BackfillRunner
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// runMu serializes passes between the loop and manual triggers
	runMu      sync.Mutex
	statsMu    sync.RWMutex
	runs       int
	lastStart  time.Time
	lastReport *appsync.BackfillReport
	lastError  string
}

// NewBackfillTrigger creates a new backfill trigger
func NewBackfillTrigger(config BackfillTriggerConfig, runner BackfillRunner, logger *zap.Logger) (*BackfillTrigger, error) {
	defaults := DefaultBackfillTriggerConfig()
	if config.PageSize == 0 {
		config.PageSize = defaults.PageSize
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackfillTrigger{
		config: config,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start starts the trigger loop
func (t *BackfillTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Backfill trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("lookback", t.config.Lookback),
		zap.Int("page_size", t.config.PageSize),
	)
	return nil
}

// Stop stops the trigger and waits for an in-progress pass
func (t *BackfillTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Backfill trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (t *BackfillTrigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}

func (t *BackfillTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	t.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *BackfillTrigger) tick(ctx context.Context) {
	if _, err := t.RunPass(ctx, t.nextRequest()); err != nil && ctx.Err() == nil {
		t.logger.Error("Backfill pass failed", zap.Error(err))
	}
}

// nextRequest is bootstrap for the first pass and incremental afterwards
func (t *BackfillTrigger) nextRequest() appsync.BackfillRequest {
	t.statsMu.RLock()
	last := t.lastStart
	t.statsMu.RUnlock()

	req := appsync.BackfillRequest{Mode: appsync.BackfillBootstrap, PageSize: t.config.PageSize}
	if !last.IsZero() {
		after := last.Add(-t.config.Lookback)
		req.Mode = appsync.BackfillIncremental
		req.After = &after
	}
	return req
}

// RunPass runs one pass now. It fails with ErrBackfillInProgress instead of
// waiting when another pass holds the trigger.
func (t *BackfillTrigger) RunPass(ctx context.Context, req appsync.BackfillRequest) (appsync.BackfillReport, error) {
	if !t.runMu.TryLock() {
		return appsync.BackfillReport{}, ErrBackfillInProgress
	}
	defer t.runMu.Unlock()

	if t.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.RunTimeout)
		defer cancel()
	}

	started := t.now()
	report, err := t.runner.Run(ctx, req)

	t.statsMu.Lock()
	t.runs++
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastStart = started
		t.lastError = ""
		t.lastReport = &report
	}
	t.statsMu.Unlock()

	if err != nil {
		return report, err
	}
	t.logger.Info("Backfill pass finished",
		zap.String("mode", string(report.Mode)),
		zap.Int("scanned", report.Scanned),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Finished.Sub(report.Started)),
	)
	return report, nil
}

// Stats returns a snapshot of the trigger state
func (t *BackfillTrigger) Stats() TriggerStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return TriggerStats{
		Running:    t.IsRunning(),
		Runs:       t.runs,
		LastStart:  t.lastStart,
		LastReport: t.lastReport,
		LastError:  t.lastError,
	}
}
