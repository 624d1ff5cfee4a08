package chatfabric

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStoreFromDSN wires the Postgres store when dsn is set, falling back to
// the in-memory store otherwise (dependency-free embedded mode), the same
// fail-fast-at-construction shape used by memory.NewAnchorStore and
// graph.NewBackend.
func NewStoreFromDSN(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("chatfabric: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("chatfabric: ping postgres: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("chatfabric: init schema: %w", err)
	}
	return store, nil
}
