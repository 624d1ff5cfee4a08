package memory

import (
	"context"

	"github.com/lyra-systems/convbus/internal/ledger"
)

// Router wires the four memory layers behind the uniform Layer contract
// and owns the ledger handle Ambient Recall needs for its unsummarized
// backlog and "startup" preset (spec §4.2).
type Router struct {
	Raw      *RawLayer
	Anchors  *AnchorsLayer
	Graph    *GraphLayer
	Crystals *CrystalsLayer

	ledger *ledger.Ledger
}

func NewRouter(ledg *ledger.Ledger, raw *RawLayer, anchors *AnchorsLayer, graph *GraphLayer, crystals *CrystalsLayer) *Router {
	return &Router{Raw: raw, Anchors: anchors, Graph: graph, Crystals: crystals, ledger: ledg}
}

// layers returns all four in the fixed order used for fan-out and health
// reporting.
func (r *Router) layers() []Layer {
	return []Layer{r.Raw, r.Anchors, r.Graph, r.Crystals}
}

// Health reports every layer's status, keyed by name, for the pps_health
// surface.
func (r *Router) Health(ctx context.Context) map[string]Health {
	names := []string{"raw", "anchors", "graph", "crystals"}
	out := make(map[string]Health, 4)
	for i, l := range r.layers() {
		out[names[i]] = l.Health(ctx)
	}
	return out
}
