package chatfabric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/bus"
)

func TestMemoryStore_CreateRoomAutoJoinsCreator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	alice, err := s.EnsureUser(ctx, "", "alice", "Alice", false)
	require.NoError(t, err)

	room, err := s.CreateRoom(ctx, "general", "General", false, alice.ID)
	require.NoError(t, err)

	member, err := s.IsMember(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestMemoryStore_AppendMessageRejectsNonMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	alice, _ := s.EnsureUser(ctx, "", "alice", "Alice", false)
	bob, _ := s.EnsureUser(ctx, "", "bob", "Bob", false)
	room, _ := s.CreateRoom(ctx, "general", "General", false, alice.ID)

	_, err := s.AppendMessage(ctx, room.ID, bob.ID, "hi")
	assert.ErrorIs(t, err, bus.ErrNotMember)
}

func TestMemoryStore_ListMessagesReturnsAscendingWithHasMore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	alice, _ := s.EnsureUser(ctx, "", "alice", "Alice", false)
	room, _ := s.CreateRoom(ctx, "general", "General", false, alice.ID)

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, room.ID, alice.ID, "msg")
		require.NoError(t, err)
	}

	msgs, hasMore, err := s.ListMessages(ctx, room.ID, 0, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, hasMore)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
	assert.Less(t, msgs[1].ID, msgs[2].ID)
}

func TestMemoryStore_GetRoomBySlugNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GetRoomBySlug(ctx, "missing")
	assert.ErrorIs(t, err, bus.ErrNotFound)
}
