package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ordersync/backend/internal/bootstrap"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/infrastructure/queue"
	"github.com/ordersync/backend/internal/infrastructure/queue/temporal"
	"github.com/ordersync/backend/internal/infrastructure/scheduler"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

// runner is a background component with a start/stop lifecycle
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()
	telCfg := bootstrap.TelemetryConfig(cfg, version)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telCfg, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telCfg, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}

	// Tee application logs into the OTLP log pipeline when it is enabled
	var extra []zapcore.Core
	if loggerProvider.IsEnabled() {
		extra = append(extra, loggerProvider.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	}
	log, err := logger.New(logCfg, extra...)
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting order sync worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	meter := meterProvider.Meter("github.com/ordersync/backend")
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	components, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{
		Metrics:     syncMetrics,
		DBTracing:   cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		AutoMigrate: true,
	})
	if err != nil {
		log.Fatal("Failed to wire components", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", components.DB.Driver()))

	if sqlDB, err := components.DB.DB.DB(); err == nil {
		if poolMetrics, err := telemetry.RegisterDBPoolMetrics(meter, sqlDB); err != nil {
			log.Warn("Failed to register DB pool metrics", zap.Error(err))
		} else {
			defer func() { _ = poolMetrics.Unregister() }()
		}
	}

	// Job consumers: the worker pool polls memory/redis, temporal runs its own worker
	var consumer runner
	if components.Backend != nil {
		pool, err := queue.NewWorkerPool(bootstrap.WorkerPoolConfig(cfg), components.Backend, log.Named("worker"))
		if err != nil {
			log.Fatal("Failed to create worker pool", zap.Error(err))
		}
		components.Handlers.Register(pool)
		consumer = pool
	} else {
		w := temporal.NewWorker(components.Temporal, bootstrap.TemporalConfig(cfg), log.Named("temporal"))
		components.Handlers.Register(w)
		consumer = w
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Failed to start job consumer", zap.Error(err))
	}

	var backfill *scheduler.BackfillTrigger
	if cfg.Sync.BackfillEnabled {
		backfill, err = scheduler.NewBackfillTrigger(scheduler.BackfillTriggerConfig{
			Interval: cfg.Sync.BackfillInterval,
			Lookback: scheduler.DefaultBackfillTriggerConfig().Lookback,
			PageSize: cfg.Sync.BackfillPageSize,
		}, components.Backfill, log.Named("backfill"))
		if err != nil {
			log.Fatal("Failed to create backfill trigger", zap.Error(err))
		}
		if err := backfill.Start(ctx); err != nil {
			log.Fatal("Failed to start backfill trigger", zap.Error(err))
		}
	}

	idempotency, err := components.IdempotencyStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	srv := newHTTPServer(cfg, components, idempotency, log)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down worker...", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if backfill != nil {
		if err := backfill.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping backfill trigger", zap.Error(err))
		}
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping job consumer", zap.Error(err))
	}
	if err := idempotency.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if err := components.Close(); err != nil {
		log.Error("Error closing components", zap.Error(err))
	}

	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logger": loggerProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down telemetry", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Worker exited gracefully")
}
