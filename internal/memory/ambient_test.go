package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/memory/graph"
)

type fakeGraphBackend struct {
	edges []graph.Edge
}

func (f *fakeGraphBackend) AddTriplet(ctx context.Context, source, relation, target, fact, sourceType, targetType, group string) (graph.Edge, error) {
	e := graph.Edge{UUID: "e-" + source + target, SourceName: source, Relation: graph.ParseRelationType(relation), TargetName: target, Fact: fact, Group: group}
	f.edges = append(f.edges, e)
	return e, nil
}

func (f *fakeGraphBackend) Search(ctx context.Context, query string, limit int) ([]graph.Edge, error) {
	return f.edges, nil
}

func (f *fakeGraphBackend) Explore(ctx context.Context, entity string, depth int) ([]graph.Edge, error) {
	return f.edges, nil
}

func (f *fakeGraphBackend) Timeline(ctx context.Context, since, until time.Time, limit int) ([]graph.Edge, error) {
	return f.edges, nil
}

func (f *fakeGraphBackend) DeleteEdge(ctx context.Context, uuid string) error { return nil }

func (f *fakeGraphBackend) IngestEpisode(ctx context.Context, text, group string) error { return nil }

func (f *fakeGraphBackend) Health(ctx context.Context) (bool, string) { return true, "ok" }

func (f *fakeGraphBackend) Close(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	l := newTestLedger(t)
	raw := NewRawLayer(l, "chat:general")
	anchors := NewAnchorsLayer(t.TempDir(), newFakeVectorBackend(), fakeEmbedder{})
	g := NewGraphLayer(&fakeGraphBackend{}, "default")
	crystals := NewCrystalsLayer(t.TempDir(), 4)
	return NewRouter(l, raw, anchors, g, crystals)
}

func TestRecall_UnionsAndSortsAcrossLayers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Raw.Store(ctx, "alpha beta gamma", map[string]any{"author_name": "alice"})
	require.NoError(t, err)
	_, err = r.Crystals.Store(ctx, "a crystallized memory", nil)
	require.NoError(t, err)

	bundle, err := r.Recall(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.NotZero(t, bundle.Clock.WallClock)
	assert.Equal(t, "healthy", bundle.MemoryHealth.Tag)
	assert.NotEmpty(t, bundle.Results)
	assert.Nil(t, bundle.Summaries, "non-startup recall must not populate summaries")
}

func TestRecall_StartupPresetDoesNotSearchAndPopulatesDigest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRouter(t)

	_, err := r.Raw.Store(ctx, "unsummarized turn one", map[string]any{"author_name": "bob"})
	require.NoError(t, err)

	bundle, err := r.Recall(ctx, "startup", 5)
	require.NoError(t, err)
	assert.Nil(t, bundle.Results, "startup is a preset, not a semantic query")
	require.Len(t, bundle.UnsummarizedTurns, 1)
	assert.Equal(t, "unsummarized turn one", bundle.UnsummarizedTurns[0].Content)
}

func TestRecall_StartupIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRouter(t)

	bundle, err := r.Recall(ctx, "STARTUP", 5)
	require.NoError(t, err)
	assert.Nil(t, bundle.Results)
}

func TestBuildMemoryHealth_TagsByBacklogSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "healthy", buildMemoryHealth(10).Tag)
	assert.Equal(t, "recommended", buildMemoryHealth(150).Tag)
	assert.Equal(t, "critical", buildMemoryHealth(250).Tag)
}

func TestBuildClockBlock_NotesLateHour(t *testing.T) {
	t.Parallel()
	late := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	block := buildClockBlock(late)
	assert.NotEmpty(t, block.TimeOfDay)

	midday := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	assert.Empty(t, buildClockBlock(midday).TimeOfDay)
}
