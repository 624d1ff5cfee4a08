package claimstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyra-systems/convbus/internal/bus"
)

// RedisStore is the fast-path claim backend for deployments that already
// run Redis for cross-instance coordination. A claim is a key whose TTL IS
// the expiry: Redis itself evicts stale claims, so SweepExpired is a no-op
// here and exists only to satisfy Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies reachability with a bounded
// ping, mirroring orchestrator.NewRedisDedupeStore's fail-fast construction.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("claimstore: redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func claimKey(channel, message string) string {
	return fmt.Sprintf("convbus:claim:%s:%s", channel, message)
}

func (s *RedisStore) TryClaim(ctx context.Context, channel, message, instance string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, claimKey(channel, message), instance, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis setnx: %v", bus.ErrTransientIO, err)
	}
	return ok, nil
}

// Release deletes the claim only if it is still owned by instance, using a
// Lua script so the read-then-delete is atomic against a concurrent
// TryClaim from a third instance after this one's TTL has already lapsed.
func (s *RedisStore) Release(ctx context.Context, channel, message, instance string) error {
	const script = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`
	if err := s.client.Eval(ctx, script, []string{claimKey(channel, message)}, instance).Err(); err != nil {
		return fmt.Errorf("%w: redis release: %v", bus.ErrTransientIO, err)
	}
	return nil
}

// SweepExpired is a no-op: Redis key TTLs self-expire.
func (s *RedisStore) SweepExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
