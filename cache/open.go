package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures a Provider implementation.
type Options struct {
	// One of "memory", "sqlite", "bolt" or "redis".
	Provider string
	// Database file for sqlite and bolt. Use "memory" for an in-memory sqlite db.
	Path string
	// Redis server address, e.g. localhost:6379.
	RedisAddr string
	// Key prefix for redis entries.
	RedisPrefix string
}

// Open returns the configured provider.
// The caller owns the returned provider and must Close it.
func Open(ctx context.Context, opts Options) (Provider, error) {
	switch opts.Provider {
	case "", "memory":
		return NewMemCache(), nil
	case "sqlite":
		path := opts.Path
		if path == "memory" {
			path = "file::memory:?cache=shared"
		}
		s, err := NewSQLiteCache(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		b, err := NewBoltCache(opts.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisCache(client, opts.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", opts.Provider)
	}
}
