package telemetry_test

import (
	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
)

var _ appsync.Metrics = (*telemetry.SyncMetrics)(nil)
