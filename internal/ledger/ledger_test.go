package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := New(context.Background(), path, 5*time.Second, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppend_AssignsIncreasingIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	id1, dup1, err := l.Append(ctx, Record{Channel: "chat:general", AuthorName: "alice", Content: "hi"})
	require.NoError(t, err)
	require.False(t, dup1)

	id2, dup2, err := l.Append(ctx, Record{Channel: "chat:general", AuthorName: "bob", Content: "yo"})
	require.NoError(t, err)
	require.False(t, dup2)

	assert.Greater(t, id2, id1)
}

func TestAppend_DuplicateExternalIDIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	id1, dup1, err := l.Append(ctx, Record{ExternalID: "ext-1", Channel: "chat:general", Content: "first"})
	require.NoError(t, err)
	require.False(t, dup1)

	id2, dup2, err := l.Append(ctx, Record{ExternalID: "ext-1", Channel: "chat:general", Content: "duplicate delivery"})
	require.NoError(t, err)
	assert.True(t, dup2)
	assert.Zero(t, id2)
	assert.NotZero(t, id1)
}

func TestGetRange_FiltersByChannelPrefixAndOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, _, err := l.Append(ctx, Record{Channel: "chat:general", Content: "a"})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, Record{Channel: "chat:random", Content: "b"})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, Record{Channel: "chat:general-overflow", Content: "c"})
	require.NoError(t, err)

	recs, err := l.GetRange(ctx, "chat:general", 0, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Content)
	assert.Equal(t, "c", recs[1].Content)
}

func TestFTSSearch_FindsMatchingContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, _, err := l.Append(ctx, Record{Channel: "chat:general", AuthorName: "alice", Content: "the quick brown fox"})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, Record{Channel: "chat:general", AuthorName: "bob", Content: "totally unrelated text"})
	require.NoError(t, err)

	results, err := l.FTSSearch(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "the quick brown fox", results[0].Content)
	assert.Greater(t, results[0].Relevance, 0.0)
}

func TestMarkSummarized_SetsPointerOnRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	id1, _, err := l.Append(ctx, Record{Channel: "chat:general", Content: "a"})
	require.NoError(t, err)
	id2, _, err := l.Append(ctx, Record{Channel: "chat:general", Content: "b"})
	require.NoError(t, err)

	n, err := l.CountUnsummarized(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, l.MarkSummarized(ctx, id1, id2, 99))

	n, err = l.CountUnsummarized(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackup_WritesRestorableSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, _, err := l.Append(ctx, Record{Channel: "chat:general", AuthorName: "alice", Content: "before backup"})
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, l.Backup(ctx, dst))

	restored, err := New(ctx, dst, 5*time.Second, 5*time.Second)
	require.NoError(t, err)
	defer restored.Close()

	rows, err := restored.GetRange(ctx, "chat:general", 0, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "before backup", rows[0].Content)
}
