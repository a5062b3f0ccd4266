package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// redisClient defines the subset of go-redis the cache needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// cachedTenant is the msgpack document stored per user.
type cachedTenant struct {
	Tenant     string `msgpack:"t"`
	ResolvedAt int64  `msgpack:"r"`
}

// RedisCache shares tenant resolutions between service instances.
// Redis errors degrade to cache misses; resolution then falls through to the catalog.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client redisClient, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis_tenant_cache"),
	}, nil
}

// Get returns the cached tenant for userID.
func (c *RedisCache) Get(ctx context.Context, userID notify.UserID) (notify.TenantID, bool) {
	key := tenantKey(userID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("Failed to read tenant cache", "key", key, "err", err)
		return "", false
	}
	var entry cachedTenant
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Discarding unreadable tenant cache entry", "key", key, "err", err)
		_ = c.client.Del(ctx, key).Err()
		return "", false
	}
	return notify.TenantID(entry.Tenant), true
}

// Set stores the resolution with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, userID notify.UserID, tenant notify.TenantID) {
	key := tenantKey(userID)
	payload, err := msgpack.Marshal(cachedTenant{Tenant: string(tenant), ResolvedAt: time.Now().Unix()})
	if err != nil {
		c.logger.Error("Failed to encode tenant cache entry", "key", key, "err", err)
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write tenant cache", "key", key, "err", err)
	}
}

// Delete removes the resolution.
func (c *RedisCache) Delete(ctx context.Context, userID notify.UserID) {
	key := tenantKey(userID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Failed to delete tenant cache entry", "key", key, "err", err)
	}
}

func tenantKey(userID notify.UserID) string { return fmt.Sprintf("tenant:%s", userID) }
