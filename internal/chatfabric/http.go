package chatfabric

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// RegisterRoutes mounts the bot-client HTTP façade mirroring the stream
// contract (spec §4.8): GET /rooms, GET /rooms/{id}/messages,
// POST /rooms/{id}/messages, POST /rooms, POST /rooms/{id}/join,
// GET /users. userOf extracts the caller's identity from the request
// (the token gate / transport layer populates it); callers outside C10
// tests may pass a fixed extractor.
func (h *Hub) RegisterRoutes(mux *http.ServeMux, userOf func(*http.Request) (string, error)) {
	mux.HandleFunc("/rooms", h.roomsHandler(userOf))
	mux.HandleFunc("/rooms/", h.roomDetailHandler(userOf))
	mux.HandleFunc("/users", h.usersHandler(userOf))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Frame{Error: msg})
}

func (h *Hub) roomsHandler(userOf func(*http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userOf(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, err.Error())
			return
		}
		switch r.Method {
		case http.MethodGet:
			rooms, err := h.store.ListRoomsForUser(r.Context(), userID)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, rooms)
		case http.MethodPost:
			var body struct {
				Slug        string `json:"slug"`
				DisplayName string `json:"display_name"`
				IsDM        bool   `json:"is_dm"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeErr(w, http.StatusBadRequest, "invalid body")
				return
			}
			room, err := h.store.CreateRoom(r.Context(), body.Slug, body.DisplayName, body.IsDM, userID)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, room)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (h *Hub) roomDetailHandler(userOf func(*http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userOf(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, err.Error())
			return
		}
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
		if rest == "" {
			http.NotFound(w, r)
			return
		}
		parts := strings.SplitN(rest, "/", 2)
		roomID := parts[0]
		sub := ""
		if len(parts) == 2 {
			sub = parts[1]
		}

		switch {
		case sub == "messages" && r.Method == http.MethodGet:
			beforeID, _ := strconv.ParseInt(r.URL.Query().Get("before_id"), 10, 64)
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			msgs, hasMore, err := h.store.ListMessages(r.Context(), roomID, beforeID, limit)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, Frame{Type: FrameHistory, RoomID: roomID, Messages: msgs, HasMore: hasMore})

		case sub == "messages" && r.Method == http.MethodPost:
			var body struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeErr(w, http.StatusBadRequest, "invalid body")
				return
			}
			msg, err := h.store.AppendMessage(r.Context(), roomID, userID, body.Content)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err.Error())
				return
			}
			h.broadcastToRoom(r.Context(), roomID, Frame{Type: FrameMessage, RoomID: roomID, Messages: []ChatMessage{msg}}, nil)
			if h.ingest != nil {
				author := userID
				if u, err := h.store.GetUser(r.Context(), userID); err == nil {
					author = u.Username
				}
				go h.ingest.FanOutIngest(r.Context(), h.chanPfx+roomID, author, body.Content)
			}
			writeJSON(w, http.StatusCreated, msg)

		case sub == "join" && r.Method == http.MethodPost:
			if err := h.store.Join(r.Context(), roomID, userID); err != nil {
				writeErr(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, Frame{Type: "joined", RoomID: roomID})

		default:
			http.NotFound(w, r)
		}
	}
}

func (h *Hub) usersHandler(userOf func(*http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := userOf(r); err != nil {
			writeErr(w, http.StatusUnauthorized, err.Error())
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		users, err := h.store.ListUsers(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}
