// Package cache implements the distributed cache plane: dedup flags and
// mutual-exclusion locks, both TTL-bounded and keyed as
// <namespace>:<feature>:<resource>. The cache is never authoritative —
// every guarantee it provides is a throughput optimization layered on
// top of the persistence plane's row locks and version CAS, and
// correctness must survive total cache loss.
package cache

import "context"

// Cache is the interface consumed by the book and coupon services. Two
// implementations exist: RedisCache (production) and the in-memory
// fallback used by tests and as a documented degraded-mode reference.
type Cache interface {
	// SetDedup inserts an "in-progress" marker for (feature, resource) if
	// absent, expiring after ttl. Returns true if this call inserted it.
	SetDedup(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error)

	// HasDedup reports whether a dedup marker is currently set.
	HasDedup(ctx context.Context, feature, resource string) (bool, error)

	// ClearDedup removes a dedup marker. Idempotent.
	ClearDedup(ctx context.Context, feature, resource string)

	// AcquireLock acquires a mutual-exclusion lock for (feature, resource)
	// if it is not already held, expiring after ttlSeconds. Returns true
	// if this call acquired it.
	AcquireLock(ctx context.Context, feature, resource string, ttlSeconds int) (bool, error)

	// ReleaseLock releases a lock previously acquired by this process.
	// Idempotent; safe to call even if the lock was never acquired or has
	// already expired.
	ReleaseLock(ctx context.Context, feature, resource string)
}

const (
	namespaceDedup = "dedup"
	namespaceLocks = "locks"
)

// key builds the <namespace>:<feature>:<resource> cache key layout.
func key(namespace, feature, resource string) string {
	return namespace + ":" + feature + ":" + resource
}
