package activemode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "active_mode.db")
	r, err := New(context.Background(), path, "instance-a", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEnterAndIsActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	active, err := r.IsActive(ctx, "C")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, r.Enter(ctx, "C"))
	active, err = r.IsActive(ctx, "C")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestExitRemovesChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Enter(ctx, "C"))
	require.NoError(t, r.Exit(ctx, "C"))

	active, err := r.IsActive(ctx, "C")
	require.NoError(t, err)
	assert.False(t, active)

	// Exiting again is idempotent.
	assert.NoError(t, r.Exit(ctx, "C"))
}

func TestListActive_ExcludesStaleChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Enter(ctx, "fresh"))
	_, err := r.db.ExecContext(ctx, `INSERT INTO active_modes (channel_id, entered_at, last_activity, instance_id) VALUES (?, ?, ?, ?)`,
		"stale", time.Now().Add(-time.Hour).UnixNano(), time.Now().Add(-time.Hour).UnixNano(), "instance-a")
	require.NoError(t, err)

	active, err := r.ListActive(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fresh"}, active)
}

func TestRunReaper_EvictsStaleChannels(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	r := newTestRegistry(t)

	_, err := r.db.ExecContext(context.Background(), `INSERT INTO active_modes (channel_id, entered_at, last_activity, instance_id) VALUES (?, ?, ?, ?)`,
		"stale", time.Now().Add(-time.Hour).UnixNano(), time.Now().Add(-time.Hour).UnixNano(), "instance-a")
	require.NoError(t, err)

	evicted := make(chan string, 1)
	go r.RunReaper(ctx, time.Minute, 20*time.Millisecond, func(channel string) {
		select {
		case evicted <- channel:
		default:
		}
	})

	select {
	case c := <-evicted:
		assert.Equal(t, "stale", c)
	case <-time.After(time.Second):
		t.Fatal("reaper did not evict stale channel in time")
	}
}
