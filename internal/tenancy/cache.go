package tenancy

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// MemoryCache is a process-local, bounded resolution cache. Entries expire
// after the TTL whether or not they are read again; when full, the least
// recently used entry is evicted.
type MemoryCache struct {
	lru *expirable.LRU[notify.UserID, notify.TenantID]
}

// NewMemoryCache creates an empty MemoryCache. A size of zero means no bound
// and a zero TTL keeps entries until evicted.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[notify.UserID, notify.TenantID](size, nil, ttl)}
}

// Get returns the cached tenant if present and not expired.
func (c *MemoryCache) Get(_ context.Context, userID notify.UserID) (notify.TenantID, bool) {
	return c.lru.Get(userID)
}

// Set stores a resolution.
func (c *MemoryCache) Set(_ context.Context, userID notify.UserID, tenant notify.TenantID) {
	c.lru.Add(userID, tenant)
}

// Delete removes a resolution.
func (c *MemoryCache) Delete(_ context.Context, userID notify.UserID) {
	c.lru.Remove(userID)
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }
