// Package transport implements the thin protocol adapters (spec component
// C10): HTTP handlers exposing the memory router and chat fabric over the
// same contract the stdio gateway (cmd/mcpgateway) forwards into, plus the
// Token Gate (C9) check every privileged call makes. No business logic
// lives here — every handler is a direct pass-through to the component
// that owns the operation, mirroring the "thin adapter" shape of
// manifold's agentd HTTP handlers.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/lyra-systems/convbus/internal/tokengate"
)

// authorize enforces §4.9: the exempt set (health checks, shared-read RAG)
// bypasses auth entirely; everything else goes through the gate.
func authorize(gate *tokengate.Gate, op, token string) error {
	if tokengate.IsExempt(op) {
		return nil
	}
	return gate.Validate(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
