// Package claimstore implements the per-(channel,message) TTL-bounded
// exclusive claim contract (spec component C3): at most one daemon instance
// may hold a non-expired claim for a given (channel, message) pair at any
// instant, so exactly one instance replies to a contested turn.
package claimstore

import (
	"context"
	"time"
)

// Store is the claim contract every backend implements.
type Store interface {
	// TryClaim transactionally deletes expired rows for (channel, message)
	// then attempts to insert a new claim owned by instance. It reports
	// true on success, false if another instance already holds a
	// non-expired claim.
	TryClaim(ctx context.Context, channel, message, instance string, ttl time.Duration) (bool, error)

	// Release deletes the claim row for (channel, message) only if it is
	// owned by instance. Releasing a claim you don't own, or one that has
	// already expired or been released, is a no-op.
	Release(ctx context.Context, channel, message, instance string) error

	// SweepExpired deletes every row whose expiry has passed and reports
	// how many were removed.
	SweepExpired(ctx context.Context) (int64, error)

	Close() error
}

// RunSweeper calls SweepExpired on the given period until ctx is done. The
// spec requires the sweeper run at ≤1 Hz; opportunistic cleanup also happens
// inline on every TryClaim, so a missed tick here is never correctness
// bearing, only a cache of expired rows.
func RunSweeper(ctx context.Context, store Store, period time.Duration, onSweep func(n int64, err error)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.SweepExpired(ctx)
			if onSweep != nil {
				onSweep(n, err)
			}
		}
	}
}
