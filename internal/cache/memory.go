package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process TTL-bounded implementation of Cache. It
// lets tests exercise every Cache call site without a live Redis, and
// documents that correctness only degrades (never breaks) when the
// cache plane is unavailable or process-local. Not used in production;
// production wiring is RedisCache so dedup/lock state is shared across
// instances.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	expiresAt time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry)}
}

func (c *MemoryCache) SetDedup(_ context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	return c.setIfAbsent(key(namespaceDedup, feature, resource), ttlSeconds), nil
}

func (c *MemoryCache) HasDedup(_ context.Context, feature, resource string) (bool, error) {
	return c.exists(key(namespaceDedup, feature, resource)), nil
}

func (c *MemoryCache) ClearDedup(_ context.Context, feature, resource string) {
	c.delete(key(namespaceDedup, feature, resource))
}

func (c *MemoryCache) AcquireLock(_ context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	return c.setIfAbsent(key(namespaceLocks, feature, resource), ttlSeconds), nil
}

func (c *MemoryCache) ReleaseLock(_ context.Context, feature, resource string) {
	c.delete(key(namespaceLocks, feature, resource))
}

func (c *MemoryCache) setIfAbsent(k string, ttlSeconds int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[k]; ok && now.Before(e.expiresAt) {
		return false
	}
	c.entries[k] = memEntry{expiresAt: now.Add(time.Duration(ttlSeconds) * time.Second)}
	return true
}

func (c *MemoryCache) exists(k string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return false
	}
	if !time.Now().Before(e.expiresAt) {
		delete(c.entries, k)
		return false
	}
	return true
}

func (c *MemoryCache) delete(k string) {
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}
