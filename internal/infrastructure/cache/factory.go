package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"github.com/ordersync/backend/internal/infrastructure/config"
)

// ErrRedisRequired is returned by OpenIdempotencyStore when Redis cannot be
// reached and the in-memory fallback is disabled.
var ErrRedisRequired = errors.New("redis required for idempotency keys")

type storeOptions struct {
	log      *zap.Logger
	shared   *redis.Client
	fallback bool
}

// StoreOption tunes OpenIdempotencyStore
type StoreOption func(*storeOptions)

// WithLogger reports which store was picked
func WithLogger(logger *zap.Logger) StoreOption {
	return func(o *storeOptions) { o.log = logger }
}

// WithRedisClient reuses an open client. The returned store will not close it.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(o *storeOptions) { o.shared = client }
}

// WithInMemoryFallback allows a process-local store when Redis is down. On by default.
func WithInMemoryFallback(allow bool) StoreOption {
	return func(o *storeOptions) { o.fallback = allow }
}

// OpenIdempotencyStore returns a Redis-backed store, dialing cfg unless a
// shared client was supplied. When Redis is unreachable it returns an
// in-memory store instead, which does not deduplicate across instances.
func OpenIdempotencyStore(ctx context.Context, cfg config.RedisConfig, opts ...StoreOption) (ordersync.IdempotencyStore, error) {
	o := storeOptions{log: zap.NewNop(), fallback: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.shared != nil {
		o.log.Info("idempotency keys stored in redis", zap.String("client", "shared"))
		return NewRedisIdempotencyStoreWithClient(o.shared, ""), nil
	}

	client, err := NewRedisClient(ctx, cfg)
	if err == nil {
		store := NewRedisIdempotencyStoreWithClient(client, "")
		store.ownClient = true
		o.log.Info("idempotency keys stored in redis", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if !o.fallback {
		return nil, fmt.Errorf("%w: %w", ErrRedisRequired, err)
	}

	o.log.Warn("redis unreachable, idempotency keys kept in memory", zap.Error(err))
	return NewInMemoryIdempotencyStore(), nil
}
