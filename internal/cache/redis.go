package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub/internal/core"
)

// RedisBackend stores completion results in Redis with server-side expiry.
// Capacity is delegated to the Redis maxmemory policy.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend over an existing client. Keys are stored
// as "<prefix>:<fingerprint>".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "agenthub:cache"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(fingerprint string) string {
	return fmt.Sprintf("%s:%s", r.prefix, fingerprint)
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*core.CompletionResult, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var result core.CompletionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &result, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, result *core.CompletionResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
