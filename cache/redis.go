package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "postview:cache"

// RedisCache stores entries as plain redis strings under a key prefix.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = defaultRedisPrefix
	}
	return &RedisCache{
		client: client,
		prefix: normalized,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return raw, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, bytes []byte) error {
	// zero expiration: entries are replaced, never expired
	if err := r.client.Set(ctx, r.key(key), bytes, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Purge(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client if it owns a connection pool.
func (r *RedisCache) Close() error {
	if closer, ok := r.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (r *RedisCache) key(key string) string {
	return r.prefix + ":" + key
}
