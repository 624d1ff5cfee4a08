package claimstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lyra-systems/convbus/internal/config"
)

// NewStore selects and constructs the configured claim backend, failing
// fast on a bad backend name or an unreachable Redis instance rather than
// deferring the error to the first TryClaim call.
func NewStore(ctx context.Context, cfg config.ClaimStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(ctx, cfg.DBPath, 5*time.Second)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("claimstore: CLAIM_REDIS_ADDR required for redis backend")
		}
		return NewRedisStore(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("claimstore: unknown backend %q", cfg.Backend)
	}
}
