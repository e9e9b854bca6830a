package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "revoked:"

// RedisRegistry shares bans between instances through Redis key expiry.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry wraps an existing client. prefix defaults to "revoked:".
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) Ban(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := r.client.Set(ctx, tokenKey(r.prefix, token), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("auth: redis ban: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsBanned(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, tokenKey(r.prefix, token)).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Claim(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	ok, err := r.client.SetNX(ctx, tokenKey(r.prefix, token), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis claim: %w", err)
	}
	return ok, nil
}

func (r *RedisRegistry) Close() error { return r.client.Close() }
