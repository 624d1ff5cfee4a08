package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVectorBackend struct {
	points map[string]VectorPoint
}

func newFakeVectorBackend() *fakeVectorBackend {
	return &fakeVectorBackend{points: map[string]VectorPoint{}}
}

func (f *fakeVectorBackend) Upsert(ctx context.Context, p VectorPoint) error {
	f.points[p.ID] = p
	return nil
}

func (f *fakeVectorBackend) Delete(ctx context.Context, id string) error {
	delete(f.points, id)
	return nil
}

func (f *fakeVectorBackend) Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error) {
	var out []VectorResult
	for id := range f.points {
		out = append(out, VectorResult{ID: id, Score: 0.5})
	}
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeVectorBackend) List(ctx context.Context) ([]VectorPoint, error) {
	var out []VectorPoint
	for _, p := range f.points {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeVectorBackend) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

func TestAnchorsLayer_StoreThenSearchSynchronisesIntoBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeVectorBackend()
	layer := NewAnchorsLayer(dir, backend, fakeEmbedder{})

	ok, err := layer.Store(ctx, "project context notes", map[string]any{"name": "project-notes"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, backend.points, "project-notes")

	hits, err := layer.Search(ctx, "project", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "anchor:project-notes", hits[0].Source)
}

func TestAnchorsLayer_SynchroniseSkipsUnchangedHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeVectorBackend()
	layer := NewAnchorsLayer(dir, backend, fakeEmbedder{})

	_, err := layer.Store(ctx, "stable content", map[string]any{"name": "stable"})
	require.NoError(t, err)

	listing, err := layer.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, listing.Synced, "stable")
	assert.Empty(t, listing.Orphans)
}

func TestAnchorsLayer_SameDayDifferentTitlesDoNotOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeVectorBackend()
	layer := NewAnchorsLayer(dir, backend, fakeEmbedder{})

	ok, err := layer.Store(ctx, "first anchor's body", map[string]any{"title": "Morning Standup"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = layer.Store(ctx, "second anchor's body", map[string]any{"title": "Evening Retro"})
	require.NoError(t, err)
	assert.True(t, ok)

	listing, err := layer.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.DiskFiles, 2, "two distinct titles saved the same day must produce two distinct files")

	morning, err := layer.readAnchorBody(listing.DiskFiles[0])
	require.NoError(t, err)
	evening, err := layer.readAnchorBody(listing.DiskFiles[1])
	require.NoError(t, err)
	assert.NotEqual(t, morning, evening)
}

func TestAnchorsLayer_StoreWithLocationPrependsFrontMatter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeVectorBackend()
	layer := NewAnchorsLayer(dir, backend, fakeEmbedder{})

	_, err := layer.Store(ctx, "a note from the field", map[string]any{"title": "Field Note", "location": "discord"})
	require.NoError(t, err)

	listing, err := layer.List(ctx)
	require.NoError(t, err)
	require.Len(t, listing.DiskFiles, 1)

	body, err := layer.readAnchorBody(listing.DiskFiles[0])
	require.NoError(t, err)
	assert.Equal(t, "a note from the field", body, "front matter is stripped back out by splitFrontMatter")
}

func TestAnchorsLayer_DeleteRemovesDiskAndVectorEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeVectorBackend()
	layer := NewAnchorsLayer(dir, backend, fakeEmbedder{})

	_, err := layer.Store(ctx, "to be removed", map[string]any{"name": "removable"})
	require.NoError(t, err)

	require.NoError(t, layer.Delete(ctx, "removable"))
	assert.NotContains(t, backend.points, "removable")
}
