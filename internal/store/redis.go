package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the configuration blob in Redis, so several relay or
// CLI processes can share one active configuration.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis server at addr. The connection is
// made lazily on first use.
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
	}
}

// Get fetches key. redis.Nil maps to ErrNotFound.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key with no expiry.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection; used at startup so a bad address fails loudly.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
