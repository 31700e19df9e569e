package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Cache[struct{}] = (*RedisCache[struct{}])(nil)

// RedisCache implements Cache on go-redis. Required for multi-instance
// deployments: the CSRF/state cache must be shared across instances.
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
}

func NewRedisCache[T any](client *redis.Client, prefix string) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix}
}

func (r *RedisCache[T]) key(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	raw, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrCacheMiss
		}
		return zero, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, fmt.Errorf("cache: invalid value: %w", err)
	}
	return value, nil
}

func (r *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (r *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (r *RedisCache[T]) Close() error {
	return r.client.Close()
}

func (r *RedisCache[T]) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
