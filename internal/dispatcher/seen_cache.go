package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSeenCache is the default SeenCache: a thin Redis GET/SET wrapper,
// adapted from the orchestrator's RedisDedupeStore. Unlike claimstore's
// RedisStore, this dedupe key's purpose is Kafka at-least-once redelivery
// suppression, not cross-instance exclusivity, so a plain Get/Set (rather
// than SetNX) is correct here.
type RedisSeenCache struct {
	client *redis.Client
}

// NewRedisSeenCache connects to addr and verifies reachability with a
// bounded ping before returning, so adapter startup fails fast on a
// misconfigured Redis address.
func NewRedisSeenCache(addr string) (*RedisSeenCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dispatcher: redis ping %s: %w", addr, err)
	}
	return &RedisSeenCache{client: client}, nil
}

func (c *RedisSeenCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *RedisSeenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisSeenCache) Close() error {
	return c.client.Close()
}
