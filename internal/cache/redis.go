package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache is the production Cache implementation backed by
// github.com/redis/go-redis/v9.
type RedisCache struct {
	client *redis.Client

	// tokens tracks the per-key holder token this process used to
	// acquire each currently-held lock, so ReleaseLock can present it to
	// releaseLockScript without the caller having to thread a token
	// through every call site.
	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisCache wraps an existing *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, tokens: make(map[string]string)}
}

func (c *RedisCache) SetDedup(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	k := key(namespaceDedup, feature, resource)
	ok, err := c.client.SetNX(ctx, k, "1", time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cache: SetDedup failed")
		return false, err
	}
	return ok, nil
}

func (c *RedisCache) HasDedup(ctx context.Context, feature, resource string) (bool, error) {
	k := key(namespaceDedup, feature, resource)
	n, err := c.client.Exists(ctx, k).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cache: HasDedup failed")
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) ClearDedup(ctx context.Context, feature, resource string) {
	k := key(namespaceDedup, feature, resource)
	if err := c.client.Del(ctx, k).Err(); err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cache: ClearDedup failed, relying on TTL")
	}
}

// AcquireLock fails closed: any Redis error is treated as "lock not
// acquired" rather than propagated as a hard failure, per the cache
// plane's failure policy.
func (c *RedisCache) AcquireLock(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error) {
	k := key(namespaceLocks, feature, resource)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, k, token, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cache: AcquireLock failed, treating as not acquired")
		return false, nil
	}
	if ok {
		c.mu.Lock()
		c.tokens[k] = token
		c.mu.Unlock()
	}
	return ok, nil
}

func (c *RedisCache) ReleaseLock(ctx context.Context, feature, resource string) {
	k := key(namespaceLocks, feature, resource)

	c.mu.Lock()
	token, held := c.tokens[k]
	delete(c.tokens, k)
	c.mu.Unlock()

	if !held {
		return
	}
	if err := releaseLockScript.Run(ctx, c.client, []string{k}, token).Err(); err != nil {
		log.Warn().Err(err).Str("key", k).Msg("cache: ReleaseLock failed, relying on TTL")
	}
}
