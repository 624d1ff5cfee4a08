package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lyra-systems/convbus/internal/bus"
	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory"
	"github.com/lyra-systems/convbus/internal/tokengate"
)

// MemoryAPI mounts the /tools/* routes the stdio gateway and any bot client
// forward into, one handler per operation named in §4.10's pending route
// list. Every handler is named for the tokengate.IsExempt op key it
// corresponds to, so the exempt set and the route table can't drift apart.
type MemoryAPI struct {
	Router *memory.Router
	Ledger *ledger.Ledger
	Gate   *tokengate.Gate
}

// RegisterRoutes mounts every /tools/* handler onto mux.
func (m *MemoryAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/tools/ambient_recall", m.ambientRecall)
	mux.HandleFunc("/tools/raw_search", m.rawSearch)
	mux.HandleFunc("/tools/anchor_search", m.anchorSearch)
	mux.HandleFunc("/tools/anchor_save", m.anchorSave)
	mux.HandleFunc("/tools/texture_search", m.textureSearch)
	mux.HandleFunc("/tools/texture_add", m.textureAdd)
	mux.HandleFunc("/tools/texture_add_triplet", m.textureAddTriplet)
	mux.HandleFunc("/tools/texture_delete/", m.textureDelete)
	mux.HandleFunc("/tools/crystallize", m.crystallize)
	mux.HandleFunc("/tools/get_crystals", m.getCrystals)
	mux.HandleFunc("/tools/store_message", m.storeMessage)
	mux.HandleFunc("/tools/pps_health", m.ppsHealth)
	mux.HandleFunc("/tools/regenerate_token", m.regenerateToken)
}

func authStatus(err error) int {
	if errors.Is(err, bus.ErrAuthRejected) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

type ambientRecallReq struct {
	Context string `json:"context"`
	Limit   int    `json:"limit"`
	Token   string `json:"token"`
}

func (m *MemoryAPI) ambientRecall(w http.ResponseWriter, r *http.Request) {
	var req ambientRecallReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := authorize(m.Gate, "ambient_recall", req.Token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	bundle, err := m.Router.Recall(r.Context(), req.Context, orDefault(req.Limit, 5))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type searchReq struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Token string `json:"token"`
}

// searchFn is the shape every memory.Layer.Search implementation shares;
// each /tools/*_search route is a thin bind of this to one layer.
type searchFn func(ctx context.Context, query string, limit int) ([]memory.SearchHit, error)

func (m *MemoryAPI) runSearch(w http.ResponseWriter, r *http.Request, op string, search searchFn) {
	var req searchReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := authorize(m.Gate, op, req.Token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	hits, err := search(r.Context(), req.Query, orDefault(req.Limit, 10))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (m *MemoryAPI) rawSearch(w http.ResponseWriter, r *http.Request) {
	m.runSearch(w, r, "raw_search", m.Router.Raw.Search)
}

func (m *MemoryAPI) anchorSearch(w http.ResponseWriter, r *http.Request) {
	m.runSearch(w, r, "anchor_search", m.Router.Anchors.Search)
}

func (m *MemoryAPI) textureSearch(w http.ResponseWriter, r *http.Request) {
	m.runSearch(w, r, "texture_search", m.Router.Graph.Search)
}

func (m *MemoryAPI) getCrystals(w http.ResponseWriter, r *http.Request) {
	m.runSearch(w, r, "get_crystals", m.Router.Crystals.Search)
}

type storeReq struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Title    string         `json:"title"`
	Location string         `json:"location"`
	Token    string         `json:"token"`
}

// storeFn is the shape every memory.Layer.Store implementation shares.
type storeFn func(ctx context.Context, content string, metadata map[string]any) (bool, error)

func (m *MemoryAPI) runStore(w http.ResponseWriter, r *http.Request, op string, store storeFn) {
	var req storeReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := authorize(m.Gate, op, req.Token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	// title/location are anchor_save-specific wire fields (§4.10); folding
	// them into metadata here, rather than widening the Layer.Store
	// signature, keeps Store's contract uniform across all four layers.
	metadata := req.Metadata
	if req.Title != "" || req.Location != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if req.Title != "" {
			metadata["title"] = req.Title
		}
		if req.Location != "" {
			metadata["location"] = req.Location
		}
	}
	stored, err := store(r.Context(), req.Content, metadata)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stored": stored})
}

func (m *MemoryAPI) anchorSave(w http.ResponseWriter, r *http.Request) {
	m.runStore(w, r, "anchor_save", m.Router.Anchors.Store)
}

func (m *MemoryAPI) textureAdd(w http.ResponseWriter, r *http.Request) {
	m.runStore(w, r, "texture_add", m.Router.Graph.Store)
}

func (m *MemoryAPI) crystallize(w http.ResponseWriter, r *http.Request) {
	m.runStore(w, r, "crystallize", m.Router.Crystals.Store)
}

type addTripletReq struct {
	Source     string `json:"source"`
	Relation   string `json:"relation"`
	Target     string `json:"target"`
	Fact       string `json:"fact"`
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`
	Token      string `json:"token"`
}

func (m *MemoryAPI) textureAddTriplet(w http.ResponseWriter, r *http.Request) {
	var req addTripletReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := authorize(m.Gate, "texture_add_triplet", req.Token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	edge, err := m.Router.Graph.AddTriplet(r.Context(), req.Source, req.Relation, req.Target, req.Fact, req.SourceType, req.TargetType)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (m *MemoryAPI) textureDelete(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimPrefix(r.URL.Path, "/tools/texture_delete/")
	token := r.URL.Query().Get("token")
	if err := authorize(m.Gate, "texture_delete", token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	if err := m.Router.Graph.DeleteEdge(r.Context(), uuid); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type storeMessageReq struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
	AuthorID   int64  `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	IsSelf     bool   `json:"is_self"`
	IsBot      bool   `json:"is_bot"`
	Token      string `json:"token"`
}

func (m *MemoryAPI) storeMessage(w http.ResponseWriter, r *http.Request) {
	var req storeMessageReq
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := authorize(m.Gate, "store_message", req.Token); err != nil {
		writeErr(w, authStatus(err), err)
		return
	}
	id, dup, err := m.Ledger.Append(r.Context(), ledger.Record{
		ExternalID: req.ExternalID,
		Channel:    req.Channel,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Content:    req.Content,
		IsSelf:     req.IsSelf,
		IsBot:      req.IsBot,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "duplicate": dup})
}

func (m *MemoryAPI) ppsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Router.Health(r.Context()))
}

func (m *MemoryAPI) regenerateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if !m.Gate.IsMaster(req.Token) {
		writeErr(w, http.StatusForbidden, bus.ErrAuthRejected)
		return
	}
	newToken, err := m.Gate.RegenerateToken()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": newToken})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
