package transport

import (
	"errors"
	"net/http"

	"github.com/lyra-systems/convbus/internal/chatfabric"
	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory"
	"github.com/lyra-systems/convbus/internal/tokengate"
)

// Deps collects everything NewMux needs to wire the daemon's HTTP surface.
// Hub may be nil when the chat fabric is not configured for this process.
type Deps struct {
	Router *memory.Router
	Ledger *ledger.Ledger
	Gate   *tokengate.Gate
	Hub    *chatfabric.Hub
}

// identityFromHeaders resolves the caller's chat-fabric user id from the
// X-User-Id header (the /ws route additionally reads X-Username), which
// the upstream gateway attaches once it has
// validated the caller's token gate credential; transport itself owns no
// separate user-auth system.
func identityFromHeaders(r *http.Request) (string, error) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return "", errors.New("transport: missing X-User-Id")
	}
	return id, nil
}

// NewMux assembles the daemon's full HTTP surface: the /tools/* memory
// router API (C2 behind C9's token gate), and, when Hub is configured, the
// chat fabric's REST façade and /ws stream (C8).
func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	api := &MemoryAPI{Router: deps.Router, Ledger: deps.Ledger, Gate: deps.Gate}
	api.RegisterRoutes(mux)

	if deps.Hub != nil {
		deps.Hub.RegisterRoutes(mux, identityFromHeaders)
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			userID, err := identityFromHeaders(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			username := r.Header.Get("X-Username")
			if username == "" {
				username = userID
			}
			deps.Hub.ServeWS(w, r, userID, username)
		})
	}

	return mux
}
