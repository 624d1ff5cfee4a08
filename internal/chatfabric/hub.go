package chatfabric

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lyra-systems/convbus/internal/bus"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
	maxHistory    = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is the wire shape for every direction of the stream (spec §4.8):
// the server accepts message/history/typing and emits connected/message/
// history/typing/presence, all sharing one envelope.
type Frame struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"room_id,omitempty"`
	Content  string        `json:"content,omitempty"`
	Username string        `json:"username,omitempty"`
	BeforeID int64         `json:"before_id,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
	HasMore  bool          `json:"has_more,omitempty"`
	User     *User         `json:"user,omitempty"`
	Rooms    []Room        `json:"rooms,omitempty"`
	Users    []User        `json:"users,omitempty"`
	Online   bool          `json:"online,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Ingestor is the best-effort C2 fan-out sink a persisted chat message is
// offered to; failures are logged, never surfaced to the chat client.
type Ingestor interface {
	FanOutIngest(ctx context.Context, channel, authorName, content string)
}

// Client is a single open connection belonging to a user; a user may hold
// several (multi-tab/multi-device), which is why presence is tracked as a
// per-user open-connection count rather than a single flag.
type Client struct {
	conn     *websocket.Conn
	userID   string
	username string
	send     chan Frame
}

// Hub owns every open connection, room broadcast, and presence transitions.
// Grounded on the register/unregister/broadcast-channel hub shape common
// across the retrieved pack's websocket handlers, adapted to membership-
// scoped room broadcast instead of a single global fan-out.
type Hub struct {
	store   Store
	ingest  Ingestor
	chanPfx string // channel prefix rooms are addressed under from C7, e.g. "chat:"

	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]int // userID -> open connection count, for presence
}

// NewHub constructs a Hub over store. ingest may be nil if no C2 fan-out
// is configured.
func NewHub(store Store, ingest Ingestor, channelPrefix string) *Hub {
	if channelPrefix == "" {
		channelPrefix = "chat:"
	}
	return &Hub{
		store:   store,
		ingest:  ingest,
		chanPfx: channelPrefix,
		clients: map[*Client]bool{},
		byUser:  map[string]int{},
	}
}

func (h *Hub) register(c *Client) (firstConnection bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.byUser[c.userID]++
	return h.byUser[c.userID] == 1
}

func (h *Hub) unregister(c *Client) (lastConnection bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	h.byUser[c.userID]--
	if h.byUser[c.userID] <= 0 {
		delete(h.byUser, c.userID)
		return true
	}
	return false
}

// deliver sends f to c without blocking the hub; a full queue disconnects
// the slow consumer rather than stalling other members (spec §5
// backpressure: "a slow consumer is disconnected rather than allowed to
// stall other members").
func (h *Hub) deliver(c *Client, f Frame) {
	select {
	case c.send <- f:
	default:
		go c.conn.Close()
	}
}

func (h *Hub) broadcastToRoom(ctx context.Context, roomID string, f Frame, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		member, err := h.store.IsMember(ctx, roomID, c.userID)
		if err != nil || !member {
			continue
		}
		h.deliver(c, f)
	}
}

func (h *Hub) broadcastPresence(ctx context.Context, userID, username string, online bool) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.userID != userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	f := Frame{Type: FramePresence, Username: username, Online: online}
	for _, c := range targets {
		h.deliver(c, f)
	}
}

// handleMessage validates membership, persists, broadcasts, and offers the
// message to the knowledge-graph fan-out best effort, never blocking the
// reply sent back to the sender.
func (h *Hub) handleMessage(ctx context.Context, c *Client, roomID, content string) {
	content = strings.TrimSpace(content)
	if roomID == "" || content == "" {
		h.deliver(c, Frame{Type: FrameMessage, Error: "room_id and content required"})
		return
	}
	msg, err := h.store.AppendMessage(ctx, roomID, c.userID, content)
	if err != nil {
		h.deliver(c, Frame{Type: FrameMessage, Error: err.Error()})
		return
	}
	msg.Username = c.username
	f := Frame{Type: FrameMessage, RoomID: roomID, Messages: []ChatMessage{msg}}
	h.broadcastToRoom(ctx, roomID, f, nil)
	h.deliver(c, f)

	if h.ingest != nil {
		go h.ingest.FanOutIngest(context.Background(), h.chanPfx+roomID, c.username, content)
	}
}

func (h *Hub) handleHistory(ctx context.Context, c *Client, roomID string, beforeID int64, limit int) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	member, err := h.store.IsMember(ctx, roomID, c.userID)
	if err != nil || !member {
		h.deliver(c, Frame{Type: FrameHistory, RoomID: roomID, Error: "not a member"})
		return
	}
	msgs, hasMore, err := h.store.ListMessages(ctx, roomID, beforeID, limit)
	if err != nil {
		h.deliver(c, Frame{Type: FrameHistory, RoomID: roomID, Error: err.Error()})
		return
	}
	h.deliver(c, Frame{Type: FrameHistory, RoomID: roomID, Messages: msgs, HasMore: hasMore})
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, roomID string) {
	if roomID == "" {
		return
	}
	h.broadcastToRoom(ctx, roomID, Frame{Type: FrameTyping, RoomID: roomID, Username: c.username}, c)
}

// Broadcast satisfies dispatcher.Broadcaster: the dispatcher's reply for
// channel (format "<prefix><room_id>") is persisted under the bot identity
// and fanned out to every connected member, the C7->C8 direction of the
// data flow.
func (h *Hub) Broadcast(ctx context.Context, channel string, chunks []string) error {
	roomID := strings.TrimPrefix(channel, h.chanPfx)
	bot, err := h.store.GetUserByUsername(ctx, "assistant")
	if err != nil {
		bot, err = h.store.EnsureUser(ctx, "", "assistant", "Assistant", true)
		if err != nil {
			return err
		}
	}
	if err := h.store.Join(ctx, roomID, bot.ID); err != nil && !errors.Is(err, bus.ErrDuplicate) {
		return err
	}
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		msg, err := h.store.AppendMessage(ctx, roomID, bot.ID, chunk)
		if err != nil {
			return err
		}
		msg.Username = bot.Username
		h.broadcastToRoom(ctx, roomID, Frame{Type: FrameMessage, RoomID: roomID, Messages: []ChatMessage{msg}}, nil)
	}
	return nil
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		lastConn := h.unregister(c)
		_ = c.conn.Close()
		close(c.send)
		if lastConn {
			h.broadcastPresence(context.Background(), c.userID, c.username, false)
		}
	}()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		ctx := context.Background()
		switch f.Type {
		case FrameMessage:
			h.handleMessage(ctx, c, f.RoomID, f.Content)
		case FrameHistory:
			h.handleHistory(ctx, c, f.RoomID, f.BeforeID, f.Limit)
		case FrameTyping:
			h.handleTyping(ctx, c, f.RoomID)
		}
	}
}

func (c *Client) writePump() {
	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
}

// ServeWS upgrades the request and runs the connection lifecycle for
// (userID, username): sends the initial connected frame, broadcasts online
// presence on the user's first open connection, then blocks pumping frames
// until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("chatfabric: websocket upgrade failed")
		return
	}
	c := &Client{conn: conn, userID: userID, username: username, send: make(chan Frame, sendQueueSize)}

	ctx := r.Context()
	rooms, err := h.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		rooms = nil
	}
	users, err := h.store.ListUsers(ctx)
	if err != nil {
		users = nil
	}
	self := User{ID: userID, Username: username}

	firstConn := h.register(c)
	h.deliver(c, Frame{Type: FrameConnected, User: &self, Rooms: rooms, Users: users})
	if firstConn {
		h.broadcastPresence(ctx, userID, username, true)
	}

	go c.writePump()
	c.readPump(h)
}
