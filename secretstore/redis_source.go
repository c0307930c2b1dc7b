package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is the key prefix used by RedisSource when none is
// configured: secrets live at "component:secret:<subdomain>".
const DefaultRedisKeyPrefix = "component:secret:"

// RedisSource fetches shared secrets from Redis, for deployments that
// provision component secrets centrally. Wrap it in a CachedSource to avoid
// a Redis round trip on every reconnect.
type RedisSource struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSource creates a RedisSource using the given client and key prefix.
//
// Parameters:
//   - client: The Redis client to query
//   - keyPrefix: Key prefix for secret entries; "" uses DefaultRedisKeyPrefix
//
// Returns:
//   - A new *RedisSource
func NewRedisSource(client *redis.Client, keyPrefix string) *RedisSource {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}

	return &RedisSource{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Secret implements Source. A missing key maps to ErrNotFound; other Redis
// failures are returned wrapped.
func (r *RedisSource) Secret(ctx context.Context, subdomain string) (string, error) {
	secret, err := r.client.Get(ctx, r.keyPrefix+subdomain).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("redis get: %w", err)
	}

	return secret, nil
}
