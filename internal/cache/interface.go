package cache

import (
	"context"
	"time"
)

// Cache defines the primitive operations for a key-value cache with
// TTL. The OAuth state cache is the primary consumer: opaque state
// values written at redirect time and consumed once at callback time.
type Cache[T any] interface {
	// Get retrieves a single value from cache.
	// Returns ErrCacheMiss if the key does not exist or has expired.
	Get(ctx context.Context, key string) (T, error)

	// Set stores a single value in cache with TTL
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes a key from cache
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error

	// Health checks if the cache is healthy
	Health(ctx context.Context) error
}

// Take retrieves and deletes a key in one step, the consume-once
// pattern used for CSRF/state values.
func Take[T any](ctx context.Context, c Cache[T], key string) (T, error) {
	value, err := c.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	_ = c.Delete(ctx, key)
	return value, nil
}
