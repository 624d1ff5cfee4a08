package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/ledger"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := ledger.New(context.Background(), path, 5*time.Second, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRawLayer_StoreThenSearchFindsContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)
	raw := NewRawLayer(l, "chat:general")

	ok, err := raw.Store(ctx, "the quick brown fox", map[string]any{"author_name": "alice"})
	require.NoError(t, err)
	assert.True(t, ok)

	hits, err := raw.Search(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "raw", hits[0].Source)
	assert.Contains(t, hits[0].Content, "fox")
}

func TestRawLayer_Health(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)
	raw := NewRawLayer(l, "chat:general")
	h := raw.Health(context.Background())
	assert.True(t, h.Available)
}
