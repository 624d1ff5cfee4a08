package memory

import (
	"context"
	"fmt"

	"github.com/liliang-cn/sqvect/v2"
)

// sqvectBackend is a VectorBackend over an embedded sqvect SQLite store,
// the no-server alternative to qdrantBackend for single-process deployments
// (SPEC_FULL.md's anchors vector-backend choice), grounded on
// liliang-cn/sqvect's SQLiteStore.
type sqvectBackend struct {
	store *sqvect.SQLiteStore
}

func newSqvectBackend(path string, dimensions int) (VectorBackend, error) {
	store, err := sqvect.New(path, dimensions)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqvect store: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("memory: init sqvect store: %w", err)
	}
	return &sqvectBackend{store: store}, nil
}

func (b *sqvectBackend) Upsert(ctx context.Context, p VectorPoint) error {
	return b.store.Upsert(ctx, &sqvect.Embedding{
		ID:       p.ID,
		DocID:    p.ID,
		Vector:   p.Vector,
		Metadata: p.Metadata,
	})
}

func (b *sqvectBackend) Delete(ctx context.Context, id string) error {
	return b.store.Delete(ctx, id)
}

func (b *sqvectBackend) Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error) {
	scored, err := b.store.Search(ctx, vector, sqvect.SearchOptions{TopK: k})
	if err != nil {
		return nil, err
	}
	out := make([]VectorResult, 0, len(scored))
	for _, s := range scored {
		out = append(out, VectorResult{ID: s.ID, Score: s.Score, Metadata: s.Metadata})
	}
	return out, nil
}

func (b *sqvectBackend) List(ctx context.Context) ([]VectorPoint, error) {
	infos, err := b.store.ListDocumentsWithInfo(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]VectorPoint, 0, len(infos))
	for _, info := range infos {
		embs, err := b.store.GetByDocID(ctx, info.DocID)
		if err != nil {
			return nil, err
		}
		if len(embs) == 0 {
			continue
		}
		points = append(points, VectorPoint{ID: info.DocID, Metadata: embs[0].Metadata})
	}
	return points, nil
}

func (b *sqvectBackend) Close() error {
	return b.store.Close()
}
