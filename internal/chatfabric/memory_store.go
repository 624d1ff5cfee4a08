package chatfabric

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyra-systems/convbus/internal/bus"
)

// NewMemoryStore returns an in-process chat fabric store, grounded on the
// teacher's memChatStore — used for tests and returned by NewStoreFromDSN
// when it is given an empty DSN. cmd/daemon does not use it: with no
// CHAT_DSN set, the daemon runs without a chat fabric.
func NewMemoryStore() Store {
	return &memStore{
		users:       map[string]User{},
		usersByName: map[string]string{},
		rooms:       map[string]Room{},
		roomBySlug:  map[string]string{},
		members:     map[string]map[string]bool{},
		messages:    map[string][]ChatMessage{},
	}
}

type memStore struct {
	mu          sync.RWMutex
	users       map[string]User
	usersByName map[string]string
	rooms       map[string]Room
	roomBySlug  map[string]string
	members     map[string]map[string]bool // roomID -> userID -> true
	messages    map[string][]ChatMessage
	nextMsgID   int64
}

func (s *memStore) Init(ctx context.Context) error { return nil }

func (s *memStore) EnsureUser(ctx context.Context, id, username, displayName string, isBot bool) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.usersByName[username]; ok {
		u := s.users[existing]
		u.DisplayName = displayName
		s.users[existing] = u
		return u, nil
	}
	if id == "" {
		id = uuid.NewString()
	}
	u := User{ID: id, Username: username, DisplayName: displayName, IsBot: isBot}
	s.users[id] = u
	s.usersByName[username] = id
	return u, nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, bus.ErrNotFound
	}
	return u, nil
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return User{}, bus.ErrNotFound
	}
	return s.users[id], nil
}

func (s *memStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *memStore) CreateRoom(ctx context.Context, slug, displayName string, isDM bool, createdBy string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roomBySlug[slug]; exists {
		return Room{}, bus.ErrDuplicate
	}
	r := Room{ID: uuid.NewString(), Slug: slug, DisplayName: displayName, IsDM: isDM, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	s.rooms[r.ID] = r
	s.roomBySlug[slug] = r.ID
	s.members[r.ID] = map[string]bool{createdBy: true}
	return r, nil
}

func (s *memStore) GetRoomByID(ctx context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, bus.ErrNotFound
	}
	return r, nil
}

func (s *memStore) GetRoomBySlug(ctx context.Context, slug string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roomBySlug[slug]
	if !ok {
		return Room{}, bus.ErrNotFound
	}
	return s.rooms[id], nil
}

func (s *memStore) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0)
	for roomID, members := range s.members {
		if members[userID] {
			out = append(out, s.rooms[roomID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) Join(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return bus.ErrNotFound
	}
	if s.members[roomID] == nil {
		s.members[roomID] = map[string]bool{}
	}
	s.members[roomID][userID] = true
	return nil
}

func (s *memStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[roomID][userID], nil
}

func (s *memStore) AppendMessage(ctx context.Context, roomID, userID, content string) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.members[roomID][userID] {
		return ChatMessage{}, bus.ErrNotMember
	}
	s.nextMsgID++
	m := ChatMessage{ID: s.nextMsgID, RoomID: roomID, UserID: userID, Content: content, CreatedAt: time.Now().UTC()}
	s.messages[roomID] = append(s.messages[roomID], m)
	return m, nil
}

func (s *memStore) ListMessages(ctx context.Context, roomID string, beforeID int64, limit int) ([]ChatMessage, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[roomID]

	// newest-first candidate slice, respecting beforeID exclusivity.
	var candidates []ChatMessage
	for i := len(all) - 1; i >= 0; i-- {
		if beforeID > 0 && all[i].ID >= beforeID {
			continue
		}
		candidates = append(candidates, all[i])
	}

	hasMore := len(candidates) > limit
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	// reverse newest-first -> ascending.
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates, hasMore, nil
}
