package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrystalsLayer_StoreAllocatesIncreasingNumbers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	layer := NewCrystalsLayer(dir, 4)

	for i := 0; i < 3; i++ {
		ok, err := layer.Store(ctx, "entry", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	hits, err := layer.Search(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "crystal:1", hits[0].Source)
	assert.Equal(t, "crystal:3", hits[2].Source)
}

func TestCrystalsLayer_StoreBeyondWindowArchivesLowest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	layer := NewCrystalsLayer(dir, 2)

	for i := 0; i < 3; i++ {
		_, err := layer.Store(ctx, "entry", nil)
		require.NoError(t, err)
	}

	hits, err := layer.Search(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "window caps current crystals at 2")
	assert.Equal(t, "crystal:2", hits[0].Source)
	assert.Equal(t, "crystal:3", hits[1].Source)

	_, err = os.Stat(filepath.Join(dir, "archive", "1-crystal.md"))
	assert.NoError(t, err, "crystal 1 should have been archived")
}

func TestCrystalsLayer_DeleteLatestOnlyRemovesHighestNumbered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	layer := NewCrystalsLayer(dir, 4)
	for i := 0; i < 2; i++ {
		_, err := layer.Store(ctx, "entry", nil)
		require.NoError(t, err)
	}

	require.NoError(t, layer.DeleteLatest(ctx))

	hits, err := layer.Search(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "crystal:1", hits[0].Source)
}
