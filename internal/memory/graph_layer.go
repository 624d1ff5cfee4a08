package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/lyra-systems/convbus/internal/memory/graph"
)

// GraphLayer is L3: a Layer adapter over graph.Backend. Store ingests
// free-text episodes (extraction is delegated to an external engine);
// search returns fact edges ranked by recency as a relevance proxy.
type GraphLayer struct {
	backend graph.Backend
	group   string
}

func NewGraphLayer(backend graph.Backend, group string) *GraphLayer {
	return &GraphLayer{backend: backend, group: group}
}

func (g *GraphLayer) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	edges, err := g.backend.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("graph layer search: %w", err)
	}
	hits := make([]SearchHit, 0, len(edges))
	for i, e := range edges {
		relevance := max0(1 - float64(i)/float64(len(edges)+1))
		hits = append(hits, SearchHit{
			Content:   fmt.Sprintf("%s %s %s", e.SourceName, e.Relation, e.TargetName),
			Source:    "graph:" + e.UUID,
			Relevance: relevance,
			Metadata: map[string]any{
				"uuid":     e.UUID,
				"fact":     e.Fact,
				"relation": string(e.Relation),
			},
		})
	}
	return hits, nil
}

func (g *GraphLayer) Store(ctx context.Context, content string, metadata map[string]any) (bool, error) {
	group := g.group
	if v, ok := metadata["group"].(string); ok && v != "" {
		group = v
	}
	if err := g.backend.IngestEpisode(ctx, content, group); err != nil {
		return false, fmt.Errorf("graph layer store: %w", err)
	}
	return true, nil
}

func (g *GraphLayer) Health(ctx context.Context) Health {
	ok, msg := g.backend.Health(ctx)
	return Health{Available: ok, Message: msg}
}

// AddTriplet exposes the triplet-specific write path beyond the uniform
// Layer interface, per spec §4.2's add_triplet operation.
func (g *GraphLayer) AddTriplet(ctx context.Context, source, relation, target, fact, sourceType, targetType string) (graph.Edge, error) {
	return g.backend.AddTriplet(ctx, source, relation, target, fact, sourceType, targetType, g.group)
}

func (g *GraphLayer) Explore(ctx context.Context, entity string, depth int) ([]graph.Edge, error) {
	return g.backend.Explore(ctx, entity, depth)
}

func (g *GraphLayer) Timeline(ctx context.Context, since, until time.Time, limit int) ([]graph.Edge, error) {
	return g.backend.Timeline(ctx, since, until, limit)
}

func (g *GraphLayer) DeleteEdge(ctx context.Context, uuid string) error {
	return g.backend.DeleteEdge(ctx, uuid)
}
