package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/bootstrap"
	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/interfaces/http/handler"
	"github.com/ordersync/backend/internal/interfaces/http/router"
)

// newHTTPServer builds the API server: probes, order ingest and sync status
func newHTTPServer(cfg *config.Config, c *bootstrap.Components, idempotency ordersync.IdempotencyStore, log *zap.Logger) *http.Server {
	checks := map[string]handler.Pinger{
		"database": handler.PingFunc(c.DB.Ping),
	}
	if c.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		})
	}

	engine := router.NewEngine(router.EngineConfig{
		Release:        cfg.App.Env == "production",
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, handler.NewHealthHandler(version, checks), log)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(handler.NewOrderSyncHandler(c.Service, idempotency, cfg.HTTP.IdempotencyTTL))
	r.Setup()

	return &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
}
