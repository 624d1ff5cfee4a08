package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory"
	"github.com/lyra-systems/convbus/internal/memory/graph"
	"github.com/lyra-systems/convbus/internal/tokengate"
)

type fakeVectorBackend struct{ points map[string]memory.VectorPoint }

func (f *fakeVectorBackend) Upsert(ctx context.Context, p memory.VectorPoint) error {
	f.points[p.ID] = p
	return nil
}
func (f *fakeVectorBackend) Delete(ctx context.Context, id string) error {
	delete(f.points, id)
	return nil
}
func (f *fakeVectorBackend) Search(ctx context.Context, vector []float32, k int) ([]memory.VectorResult, error) {
	return nil, nil
}
func (f *fakeVectorBackend) List(ctx context.Context) ([]memory.VectorPoint, error) {
	out := make([]memory.VectorPoint, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeVectorBackend) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0, 0, 0}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

func newTestAPI(t *testing.T) *MemoryAPI {
	t.Helper()
	ledg, err := ledger.New(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), 5*time.Second, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { ledg.Close() })

	raw := memory.NewRawLayer(ledg, "chat:general")
	anchors := memory.NewAnchorsLayer(t.TempDir(), &fakeVectorBackend{points: map[string]memory.VectorPoint{}}, fakeEmbedder{})
	backend, err := graph.NewBackend(graph.Config{Backend: "http", HTTPBase: "http://127.0.0.1:1"})
	require.NoError(t, err)
	graphLayer := memory.NewGraphLayer(backend, "test-group")
	crystals := memory.NewCrystalsLayer(t.TempDir(), 3)
	router := memory.NewRouter(ledg, raw, anchors, graphLayer, crystals)

	gate, err := tokengate.New(filepath.Join(t.TempDir(), "token"), "master-secret", true)
	require.NoError(t, err)

	return &MemoryAPI{Router: router, Ledger: ledg, Gate: gate}
}

func doJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestMemoryAPI_GetCrystalsRequiresToken(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	rec := doJSON(t, api.getCrystals, searchReq{Query: "fox"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMemoryAPI_RawSearchIsExemptFromRejectionOnMissingToken(t *testing.T) {
	// raw_search is in tokengate's exempt set, but the gate is Strict here —
	// IsExempt must short-circuit Validate entirely, not just forgive a
	// missing token.
	t.Parallel()
	api := newTestAPI(t)
	ok, err := api.Router.Raw.Store(context.Background(), "the quick brown fox", map[string]any{"author_name": "alice"})
	require.NoError(t, err)
	require.True(t, ok)

	rec := doJSON(t, api.rawSearch, searchReq{Query: "fox"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []memory.SearchHit `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Contains(t, body.Results[0].Content, "fox")
}

func TestMemoryAPI_CrystallizeThenGetCrystalsRoundTrips(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	rec := doJSON(t, api.crystallize, storeReq{Content: "weekly digest", Token: "master-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, api.getCrystals, searchReq{Query: "digest", Token: "master-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []memory.SearchHit `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Results, 1)
}

func TestMemoryAPI_StoreMessagePersistsToLedger(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	rec := doJSON(t, api.storeMessage, storeMessageReq{
		Channel: "chat:general", AuthorName: "alice", Content: "hello", Token: "master-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID        int64 `json:"id"`
		Duplicate bool  `json:"duplicate"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Greater(t, body.ID, int64(0))
	assert.False(t, body.Duplicate)
}

func TestMemoryAPI_RegenerateTokenRequiresMaster(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	rec := doJSON(t, api.regenerateToken, map[string]string{"token": "not-the-master"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, api.regenerateToken, map[string]string{"token": "master-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Token)
}

func TestMemoryAPI_PPSHealthIsExemptAndReportsAllFourLayers(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/tools/pps_health", nil)
	rec := httptest.NewRecorder()
	api.ppsHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]memory.Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	for _, name := range []string{"raw", "anchors", "graph", "crystals"} {
		_, ok := body[name]
		assert.True(t, ok, "missing health entry for %s", name)
	}
}
