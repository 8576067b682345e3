// Package bootstrap assembles the order sync components shared by the worker
// and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/infrastructure/crm"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/infrastructure/persistence"
	"github.com/ordersync/backend/internal/infrastructure/queue"
	"github.com/ordersync/backend/internal/infrastructure/queue/temporal"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
)

// ErrNoDeadLetters is returned by dead-letter operations on the temporal
// backend, which keeps failed workflows in its own history
var ErrNoDeadLetters = errors.New("dead letters are not available for the temporal backend")

// Components holds the wired order sync services
type Components struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *persistence.Database
	Redis *redis.Client

	Orders        *persistence.GormOrderRepository
	SyncRecords   *persistence.GormSyncRecordRepository
	Notifications *persistence.GormNotificationRecordRepository

	// Backend is nil for the temporal backend
	Backend  queue.Backend
	Queue    ordersync.JobQueue
	Temporal client.Client

	CRM          *crm.Client
	Metrics      appsync.Metrics
	Orchestrator *appsync.SyncOrchestrator
	Processor    *appsync.NotificationProcessor
	Service      *appsync.OrderSyncService
	Backfill     *appsync.BackfillTracker
	Handlers     *appsync.JobHandlers

	closers []func() error
}

// Options tune Build
type Options struct {
	// Metrics records sync metrics, NopMetrics when nil
	Metrics appsync.Metrics
	// DBTracing registers the otelgorm plugin
	DBTracing bool
	// AutoMigrate creates the tables from the models on sqlite
	AutoMigrate bool
}

// Build opens the database and queue transport and wires the application
// services. Close releases everything Build opened.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Components, error) {
	c := &Components{Config: cfg, Logger: log, Metrics: opts.Metrics}
	if c.Metrics == nil {
		c.Metrics = appsync.NopMetrics{}
	}
	if err := c.open(ctx, cfg, log, opts); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.wireServices(cfg, log)
	return c, nil
}

func (c *Components) open(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) error {
	if err := c.openDatabase(cfg, log, opts); err != nil {
		return err
	}
	if err := c.openQueue(ctx, cfg, log); err != nil {
		return err
	}
	crmClient, err := crm.NewClient(crm.ConfigFrom(cfg.CRM), crm.WithLogger(log.Named("crm")))
	if err != nil {
		return err
	}
	c.CRM = crmClient
	return nil
}

func (c *Components) openDatabase(cfg *config.Config, log *zap.Logger, opts Options) error {
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithLogger(log.Named("gorm"), logger.ParseSQLLogLevel(cfg.Log.Level)),
		persistence.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)

	if opts.DBTracing {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBName:          cfg.Database.DBName,
		}, log)
		if err := plugin.Register(db.DB); err != nil {
			return fmt.Errorf("register db tracing: %w", err)
		}
	}
	if opts.AutoMigrate && db.Driver() == config.DriverSQLite {
		if err := db.AutoMigrate(); err != nil {
			return err
		}
	}

	c.Orders = persistence.NewGormOrderRepository(db.DB)
	c.SyncRecords = persistence.NewGormSyncRecordRepository(db.DB)
	c.Notifications = persistence.NewGormNotificationRecordRepository(db.DB)
	return nil
}

func (c *Components) openQueue(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		backend := queue.NewMemoryBackend()
		c.Backend = backend
		c.Queue = queue.NewProducer(backend)
		c.closers = append(c.closers, backend.Close)

	case config.QueueBackendRedis:
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
		c.Backend = queue.NewRedisBackendWithClient(rdb, cfg.Redis.KeyPrefix)
		c.Queue = queue.NewProducer(c.Backend)

	case config.QueueBackendTemporal:
		tcfg := TemporalConfig(cfg)
		tc, err := temporal.Dial(tcfg)
		if err != nil {
			return err
		}
		c.Temporal = tc
		c.closers = append(c.closers, func() error { tc.Close(); return nil })
		c.Queue = temporal.NewEnqueuer(tc, tcfg)

	default:
		return fmt.Errorf("%w: unknown queue backend %q", queue.ErrInvalidConfig, cfg.Queue.Backend)
	}
	log.Info("Queue backend ready", zap.String("backend", cfg.Queue.Backend))
	return nil
}

func (c *Components) wireServices(cfg *config.Config, log *zap.Logger) {
	branches := ordersync.NewBranchFilter(cfg.Sync.Branches...)
	jobConfig := appsync.SyncJobConfig{MaxAttempts: cfg.Sync.MaxAttempts, BackoffDelay: cfg.Sync.BackoffDelay}

	dispatcher := appsync.NewNotificationDispatcher(
		c.Notifications,
		c.Queue,
		branches,
		appsync.DispatcherConfig{
			Template:     cfg.Notification.Template,
			InitialDelay: cfg.Notification.InitialDelay,
			MaxAttempts:  cfg.Notification.MaxAttempts,
			BackoffDelay: cfg.Notification.BackoffDelay,
		},
		c.Metrics,
		log.Named("dispatcher"),
	)

	c.Orchestrator = appsync.NewSyncOrchestrator(appsync.OrchestratorConfig{
		Orders:      c.Orders,
		SyncRecords: c.SyncRecords,
		Contacts:    c.CRM,
		Dispatcher:  dispatcher,
		Branches:    branches,
		Metrics:     c.Metrics,
		Logger:      log.Named("orchestrator"),
	})
	c.Processor = appsync.NewNotificationProcessor(
		c.Notifications, c.Orders, c.SyncRecords, c.CRM, c.Metrics, log.Named("notifications"),
	)
	c.Service = appsync.NewOrderSyncService(
		c.Orders, c.SyncRecords, c.Notifications, c.Queue, c.Orchestrator, jobConfig, log,
	)
	c.Backfill = appsync.NewBackfillTracker(c.Orders, c.Queue, branches, jobConfig, log.Named("backfill"))
	c.Handlers = appsync.NewJobHandlers(c.Orchestrator, c.Processor, log.Named("jobs"))
}

// DeadLetters returns the dead-letter view of the queue
func (c *Components) DeadLetters() (*queue.Producer, error) {
	if c.Backend == nil {
		return nil, ErrNoDeadLetters
	}
	return queue.NewProducer(c.Backend), nil
}

// IdempotencyStore returns the store used for Idempotency-Key handling. It
// shares the queue's Redis client when there is one.
func (c *Components) IdempotencyStore(ctx context.Context) (ordersync.IdempotencyStore, error) {
	if c.Config.Queue.Backend == config.QueueBackendMemory {
		return cache.NewInMemoryIdempotencyStore(), nil
	}
	opts := []cache.StoreOption{
		cache.WithLogger(c.Logger),
		cache.WithInMemoryFallback(c.Config.App.Env != "production"),
	}
	if c.Redis != nil {
		opts = append(opts, cache.WithRedisClient(c.Redis))
	}
	return cache.OpenIdempotencyStore(ctx, c.Config.Redis, opts...)
}

// Close releases resources in reverse order of acquisition
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// TemporalConfig maps the application config onto the temporal backend
func TemporalConfig(cfg *config.Config) temporal.Config {
	tcfg := temporal.DefaultConfig()
	tcfg.HostPort = cfg.Temporal.HostPort
	tcfg.Namespace = cfg.Temporal.Namespace
	tcfg.TaskQueue = cfg.Temporal.TaskQueue
	tcfg.ActivityTimeout = cfg.Temporal.ActivityTimeout
	if cfg.Queue.Concurrency > 0 {
		tcfg.MaxConcurrentActivities = cfg.Queue.Concurrency
	}
	return tcfg
}

// TelemetryConfig maps the application config onto the OTLP providers
func TelemetryConfig(cfg *config.Config, version string) telemetry.Config {
	return telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}
}

// WorkerPoolConfig maps the application config onto the worker pool
func WorkerPoolConfig(cfg *config.Config) queue.WorkerPoolConfig {
	return queue.WorkerPoolConfig{
		Queues:        []string{ordersync.QueueOrderSync, ordersync.QueueNotifications},
		Concurrency:   cfg.Queue.Concurrency,
		PollInterval:  cfg.Queue.PollInterval,
		JobTimeout:    cfg.Queue.JobTimeout,
		LeaseDuration: cfg.Queue.LeaseDuration,
		ReapInterval:  cfg.Queue.ReapInterval,
	}
}
