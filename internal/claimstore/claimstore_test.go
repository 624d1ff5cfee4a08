package claimstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.db")
	store, err := NewSQLiteStore(context.Background(), path, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTryClaim_ExclusiveUntilExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	ok, err := store.TryClaim(ctx, "C", "M1", "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryClaim(ctx, "C", "M1", "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second instance must not win a live claim")
}

func TestTryClaim_ReclaimableAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	ok, err := store.TryClaim(ctx, "C", "M1", "instance-a", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = store.TryClaim(ctx, "C", "M1", "instance-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired claim must be reclaimable by another instance")
}

func TestRelease_OnlyOwnerCanRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	ok, err := store.TryClaim(ctx, "C", "M1", "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "C", "M1", "instance-b"))
	ok, err = store.TryClaim(ctx, "C", "M1", "instance-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "releasing with the wrong instance id must be a no-op")

	require.NoError(t, store.Release(ctx, "C", "M1", "instance-a"))
	ok, err = store.TryClaim(ctx, "C", "M1", "instance-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "releasing with the owning instance id must free the claim")
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.TryClaim(ctx, "C", "M1", "instance-a", time.Millisecond)
	require.NoError(t, err)
	_, err = store.TryClaim(ctx, "C", "M2", "instance-a", time.Hour)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRelease_MissingClaimIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	assert.NoError(t, store.Release(ctx, "C", "unknown", "instance-a"))
}
