package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/interfaces/http/dto"
	"github.com/ordersync/backend/internal/interfaces/http/middleware"
)

// Idempotency headers
const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// OrderSyncService is the application service behind the order endpoints
type OrderSyncService interface {
	IngestOrder(ctx context.Context, req appsync.IngestOrderRequest) (*appsync.EnqueueResponse, error)
	RequestSync(ctx context.Context, orderID string) (*appsync.EnqueueResponse, error)
	Status(ctx context.Context, orderID string) (*appsync.SyncStatusResponse, error)
}

// OrderSyncHandler serves the order ingest and sync endpoints
type OrderSyncHandler struct {
	BaseHandler
	service        OrderSyncService
	idempotency    ordersync.IdempotencyStore
	idempotencyTTL time.Duration
}

// NewOrderSyncHandler creates an OrderSyncHandler. A nil store disables
// Idempotency-Key handling.
func NewOrderSyncHandler(service OrderSyncService, store ordersync.IdempotencyStore, ttl time.Duration) *OrderSyncHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OrderSyncHandler{
		service:        service,
		idempotency:    store,
		idempotencyTTL: ttl,
	}
}

// IngestOrder stores an order and enqueues its sync job.
// POST /api/v1/orders
func (h *OrderSyncHandler) IngestOrder(c *gin.Context) {
	var req appsync.IngestOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" || h.idempotency == nil {
		h.ingest(c, req)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		h.BadRequest(c, "Idempotency-Key is too long")
		return
	}
	h.ingestOnce(c, "ingest:"+key, req)
}

func (h *OrderSyncHandler) ingest(c *gin.Context, req appsync.IngestOrderRequest) {
	resp, err := h.service.IngestOrder(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, resp)
}

func (h *OrderSyncHandler) ingestOnce(c *gin.Context, key string, req appsync.IngestOrderRequest) {
	ctx := c.Request.Context()
	log := logger.GetGinLogger(c).With(zap.String("idempotency_key", key))

	reserved, err := h.idempotency.Reserve(ctx, key, h.idempotencyTTL)
	if err != nil {
		// Store outage: ingest without deduplication.
		log.Warn("idempotency store unavailable", zap.Error(err))
		h.ingest(c, req)
		return
	}
	if !reserved {
		h.replay(c, key)
		return
	}

	resp, err := h.service.IngestOrder(ctx, req)
	if err != nil {
		if rerr := h.idempotency.Release(ctx, key); rerr != nil {
			log.Warn("failed to release idempotency key", zap.Error(rerr))
		}
		h.HandleError(c, err)
		return
	}

	data, err := json.Marshal(resp)
	if err == nil {
		err = h.idempotency.Complete(ctx, key, string(data), h.idempotencyTTL)
	}
	if err != nil {
		log.Warn("failed to record idempotent result", zap.Error(err))
	}
	h.Accepted(c, resp)
}

func (h *OrderSyncHandler) replay(c *gin.Context, key string) {
	result, found, err := h.idempotency.Lookup(c.Request.Context(), key)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !found || result == "" {
		h.Error(c, dto.ErrCodeRequestInFlight, "A request with this Idempotency-Key is still being processed")
		return
	}

	var resp appsync.EnqueueResponse
	if err := json.Unmarshal([]byte(result), &resp); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Header(IdempotencyReplayedHeader, "true")
	h.Accepted(c, &resp)
}

// RequestSync enqueues a sync job for an existing order.
// POST /api/v1/orders/:order_id/sync
func (h *OrderSyncHandler) RequestSync(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}
	resp, err := h.service.RequestSync(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, resp)
}

// GetSyncStatus returns the sync record and notification state of an order.
// GET /api/v1/orders/:order_id/sync
func (h *OrderSyncHandler) GetSyncStatus(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}
	resp, err := h.service.Status(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

func (h *OrderSyncHandler) orderID(c *gin.Context) (string, bool) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	if orderID == "" || len(orderID) > 64 {
		h.BadRequest(c, "invalid order_id")
		return "", false
	}
	return orderID, true
}

// RegisterRoutes mounts the order endpoints on rg
func (h *OrderSyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	orders.POST("", h.IngestOrder)
	orders.POST("/:order_id/sync", h.RequestSync)
	orders.GET("/:order_id/sync", h.GetSyncStatus)
}
