package chatfabric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyra-systems/convbus/internal/bus"
)

// NewPostgresStore returns a Postgres-backed chat fabric store.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat_users (
    id UUID PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    is_bot BOOLEAN NOT NULL DEFAULT FALSE,
    token_hash TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chat_rooms (
    id UUID PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    is_dm BOOLEAN NOT NULL DEFAULT FALSE,
    created_by UUID NOT NULL REFERENCES chat_users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_memberships (
    room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES chat_users(id) ON DELETE CASCADE,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS chat_fabric_messages (
    id BIGSERIAL PRIMARY KEY,
    room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES chat_users(id),
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS chat_fabric_messages_room_id_idx ON chat_fabric_messages(room_id, id DESC);
CREATE INDEX IF NOT EXISTS chat_memberships_user_idx ON chat_memberships(user_id);
`)
	return err
}

func (s *pgStore) EnsureUser(ctx context.Context, id, username, displayName string, isBot bool) (User, error) {
	if id == "" {
		id = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO chat_users (id, username, display_name, is_bot)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username) DO UPDATE SET display_name = EXCLUDED.display_name
RETURNING id, username, display_name, is_bot`, id, username, displayName, isBot)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsBot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, bus.ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *pgStore) GetUser(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, username, display_name, is_bot FROM chat_users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *pgStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, username, display_name, is_bot FROM chat_users WHERE username = $1`, username)
	return scanUser(row)
}

func (s *pgStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, display_name, is_bot FROM chat_users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	if err := row.Scan(&r.ID, &r.Slug, &r.DisplayName, &r.IsDM, &r.CreatedBy, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, bus.ErrNotFound
		}
		return Room{}, err
	}
	return r, nil
}

// CreateRoom creates the room and auto-joins its creator in one transaction
// (spec §3: "creator auto-joined").
func (s *pgStore) CreateRoom(ctx context.Context, slug, displayName string, isDM bool, createdBy string) (Room, error) {
	if strings.TrimSpace(slug) == "" {
		return Room{}, errors.New("chatfabric: slug required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Room{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO chat_rooms (id, slug, display_name, is_dm, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, slug, display_name, is_dm, created_by, created_at`, uuid.New(), slug, displayName, isDM, createdBy)
	room, err := scanRoom(row)
	if err != nil {
		return Room{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO chat_memberships (room_id, user_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, room.ID, createdBy); err != nil {
		return Room{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (s *pgStore) GetRoomByID(ctx context.Context, id string) (Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, slug, display_name, is_dm, created_by, created_at FROM chat_rooms WHERE id = $1`, id)
	return scanRoom(row)
}

func (s *pgStore) GetRoomBySlug(ctx context.Context, slug string) (Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, slug, display_name, is_dm, created_by, created_at FROM chat_rooms WHERE slug = $1`, slug)
	return scanRoom(row)
}

func (s *pgStore) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.id, r.slug, r.display_name, r.is_dm, r.created_by, r.created_at
FROM chat_rooms r
JOIN chat_memberships m ON m.room_id = r.id
WHERE m.user_id = $1
ORDER BY r.created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) Join(ctx context.Context, roomID, userID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO chat_memberships (room_id, user_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, roomID, userID)
	return err
}

func (s *pgStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM chat_memberships WHERE room_id = $1 AND user_id = $2)`, roomID, userID).Scan(&exists)
	return exists, err
}

func (s *pgStore) AppendMessage(ctx context.Context, roomID, userID, content string) (ChatMessage, error) {
	member, err := s.IsMember(ctx, roomID, userID)
	if err != nil {
		return ChatMessage{}, err
	}
	if !member {
		return ChatMessage{}, bus.ErrNotMember
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO chat_fabric_messages (room_id, user_id, content)
VALUES ($1, $2, $3)
RETURNING id, room_id, user_id, content, created_at`, roomID, userID, content)
	var m ChatMessage
	if err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
		return ChatMessage{}, err
	}
	return m, nil
}

func (s *pgStore) ListMessages(ctx context.Context, roomID string, beforeID int64, limit int) ([]ChatMessage, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query := `
SELECT id, room_id, user_id, content, created_at
FROM chat_fabric_messages
WHERE room_id = $1`
	args := []any{roomID}
	if beforeID > 0 {
		query += ` AND id < $2`
		args = append(args, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	// reverse newest-first -> ascending, per spec §4.8 "history" contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, hasMore, nil
}
