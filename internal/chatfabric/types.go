// Package chatfabric implements the real-time room/user/membership store
// and bidirectional broadcast stream (spec component C8). Storage mirrors
// manifold's chat_store_postgres.go/chat_store_memory.go duality — a
// Postgres-backed store for production, an in-memory store for embedded
// or test use — behind a single Store interface. The Hub layers presence
// and broadcast on top, grounded on the gorilla/websocket register/
// unregister/broadcast-channel pattern used across the retrieved pack.
package chatfabric

import (
	"context"
	"time"
)

// User is a chat participant; bot users (is_bot=true) are the daemon's own
// dispatcher replies surfaced into the fabric.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
	TokenHash   string `json:"-"`
}

// Room is a named channel; a DM is a room with IsDM set, with no further
// API distinction from a regular room.
type Room struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name"`
	IsDM        bool      `json:"is_dm"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is a single persisted message within a room.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Frame type names, both directions of the stream (spec §4.8).
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameHistory   = "history"
	FrameTyping    = "typing"
	FramePresence  = "presence"
)

// Store is the persistence contract C8 depends on: users, rooms,
// memberships, and message history. Both the Postgres and in-memory
// implementations satisfy it.
type Store interface {
	Init(ctx context.Context) error

	EnsureUser(ctx context.Context, id, username, displayName string, isBot bool) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	CreateRoom(ctx context.Context, slug, displayName string, isDM bool, createdBy string) (Room, error)
	GetRoomByID(ctx context.Context, id string) (Room, error)
	GetRoomBySlug(ctx context.Context, slug string) (Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]Room, error)

	Join(ctx context.Context, roomID, userID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	AppendMessage(ctx context.Context, roomID, userID, content string) (ChatMessage, error)
	// ListMessages returns up to limit messages in (created_at, id) ascending
	// order, optionally bounded by beforeID (exclusive), plus whether more
	// older messages exist beyond the returned page.
	ListMessages(ctx context.Context, roomID string, beforeID int64, limit int) (messages []ChatMessage, hasMore bool, err error)
}
