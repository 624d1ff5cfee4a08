package memory

import (
	"fmt"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory/graph"
)

// NewRouterFromConfig wires all four layers and the Router from cfg,
// failing fast (same shape as invoker.NewProvider / claimstore.NewStore)
// if any backend cannot be constructed.
func NewRouterFromConfig(ledg *ledger.Ledger, cfg config.MemoryConfig, defaultChannel, openAIKey, openAIBaseURL string) (*Router, error) {
	raw := NewRawLayer(ledg, defaultChannel)

	vectorBackend, embedder, err := NewAnchorStore(cfg.Anchors, openAIKey, openAIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory: build anchors layer: %w", err)
	}
	anchors := NewAnchorsLayer(cfg.AnchorsDir, vectorBackend, embedder)

	graphBackend, err := graph.NewBackend(graph.Config{
		Backend:  cfg.Graph.Backend,
		URI:      cfg.Graph.URI,
		Username: cfg.Graph.Username,
		Password: cfg.Graph.Password,
		HTTPBase: cfg.Graph.HTTPBase,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: build graph layer: %w", err)
	}
	graphLayer := NewGraphLayer(graphBackend, defaultChannel)

	crystals := NewCrystalsLayer(cfg.CrystalsDir, cfg.CrystalWindow)

	return NewRouter(ledg, raw, anchors, graphLayer, crystals), nil
}
