package memory

import (
	"fmt"

	"github.com/lyra-systems/convbus/internal/config"
)

// NewAnchorStore picks the anchors layer's vector backend by
// cfg.Anchors.Backend ("qdrant" or "sqvect"), failing fast on a missing or
// unknown backend the same way invoker.NewProvider does for worker
// backends.
func NewAnchorStore(cfg config.AnchorVectorConfig, openAIKey, openAIBaseURL string) (VectorBackend, Embedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, nil, fmt.Errorf("memory: anchors require dimensions > 0")
	}
	embed := newOpenAIEmbedder(openAIKey, openAIBaseURL, cfg.EmbedModel, cfg.Dimensions)

	switch cfg.Backend {
	case "", "qdrant":
		if cfg.QdrantURL == "" {
			return nil, nil, fmt.Errorf("memory: qdrant anchors backend requires qdrant_url")
		}
		backend, err := newQdrantBackend(cfg.QdrantURL, cfg.Collection, cfg.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return backend, embed, nil
	case "sqvect":
		if cfg.SqvectDB == "" {
			return nil, nil, fmt.Errorf("memory: sqvect anchors backend requires sqvect_db")
		}
		backend, err := newSqvectBackend(cfg.SqvectDB, cfg.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return backend, embed, nil
	default:
		return nil, nil, fmt.Errorf("memory: unknown anchors backend %q", cfg.Backend)
	}
}
