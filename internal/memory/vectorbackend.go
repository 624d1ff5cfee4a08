package memory

import "context"

// VectorPoint is one embedded document as stored by a VectorBackend.
type VectorPoint struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// VectorResult is one similarity match.
type VectorResult struct {
	ID       string
	Score    float64 // similarity; higher is better for cosine backends
	Distance float64 // distance; lower is better, 0 when backend only reports score
	Metadata map[string]string
}

// VectorBackend abstracts the anchors layer's embedded document index,
// implemented by both the networked Qdrant backend and the embedded
// sqvect backend (spec §4.2's L2, SPEC_FULL.md's domain-stack choice
// between github.com/qdrant/go-client and github.com/liliang-cn/sqvect/v2).
type VectorBackend interface {
	Upsert(ctx context.Context, p VectorPoint) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error)
	// List returns every point currently stored (id + metadata), for
	// disk/vector reconciliation (resync, list, orphan/missing detection,
	// and hash-mismatch update detection).
	List(ctx context.Context) ([]VectorPoint, error)
	Close() error
}

// Embedder turns text into a fixed-dimension vector. The anchors layer
// embeds both documents on synchronise and queries on search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
