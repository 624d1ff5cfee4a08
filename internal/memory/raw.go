package memory

import (
	"context"
	"fmt"

	"github.com/lyra-systems/convbus/internal/ledger"
)

// RawLayer is L1: a thin Layer adapter over the ledger's full-text search,
// grounded on ledger.Ledger.FTSSearch/Append (spec component C1).
type RawLayer struct {
	ledger  *ledger.Ledger
	channel string // default channel for Store when metadata omits one
}

// NewRawLayer constructs L1 over an already-open ledger.
func NewRawLayer(l *ledger.Ledger, defaultChannel string) *RawLayer {
	return &RawLayer{ledger: l, channel: defaultChannel}
}

func (r *RawLayer) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	results, err := r.ledger.FTSSearch(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("raw layer search: %w", err)
	}
	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{
			Content:   res.Content,
			Source:    "raw",
			Relevance: res.Relevance,
			Metadata: map[string]any{
				"message_id": res.ID,
				"channel":    res.Channel,
				"author":     res.AuthorName,
				"created_at": res.CreatedAt,
			},
		})
	}
	return hits, nil
}

func (r *RawLayer) Store(ctx context.Context, content string, metadata map[string]any) (bool, error) {
	channel := r.channel
	if v, ok := metadata["channel"].(string); ok && v != "" {
		channel = v
	}
	author := "system"
	if v, ok := metadata["author_name"].(string); ok && v != "" {
		author = v
	}
	var authorID int64
	if v, ok := metadata["author_id"].(int64); ok {
		authorID = v
	}
	_, dup, err := r.ledger.Append(ctx, ledger.Record{
		Channel:    channel,
		AuthorID:   authorID,
		AuthorName: author,
		Content:    content,
	})
	if err != nil {
		return false, fmt.Errorf("raw layer store: %w", err)
	}
	return !dup, nil
}

func (r *RawLayer) Health(ctx context.Context) Health {
	if _, err := r.ledger.FTSSearch(ctx, `"health-check"`, 1); err != nil {
		return Health{Available: false, Message: err.Error()}
	}
	return Health{Available: true, Message: "ok"}
}
