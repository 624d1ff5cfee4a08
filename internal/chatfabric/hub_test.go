package chatfabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	calls []string
}

func (f *fakeIngestor) FanOutIngest(ctx context.Context, channel, authorName, content string) {
	f.calls = append(f.calls, channel+":"+authorName+":"+content)
}

func newTestHub(t *testing.T) (*Hub, Store, string, string) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	alice, err := store.EnsureUser(ctx, "", "alice", "Alice", false)
	require.NoError(t, err)
	bob, err := store.EnsureUser(ctx, "", "bob", "Bob", false)
	require.NoError(t, err)
	room, err := store.CreateRoom(ctx, "general", "General", false, alice.ID)
	require.NoError(t, err)
	require.NoError(t, store.Join(ctx, room.ID, bob.ID))

	hub := NewHub(store, nil, "chat:")
	return hub, store, alice.ID, room.ID
}

func TestHub_HandleMessagePersistsAndBroadcastsToMembersOnly(t *testing.T) {
	t.Parallel()
	hub, store, aliceID, roomID := newTestHub(t)
	ctx := context.Background()

	bobID, err := store.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	outsider, err := store.EnsureUser(ctx, "", "eve", "Eve", false)
	require.NoError(t, err)

	alice := &Client{userID: aliceID, username: "alice", send: make(chan Frame, 4)}
	bob := &Client{userID: bobID.ID, username: "bob", send: make(chan Frame, 4)}
	eve := &Client{userID: outsider.ID, username: "eve", send: make(chan Frame, 4)}
	hub.register(alice)
	hub.register(bob)
	hub.register(eve)

	hub.handleMessage(ctx, alice, roomID, "hello room")

	select {
	case f := <-bob.send:
		require.Len(t, f.Messages, 1)
		assert.Equal(t, "hello room", f.Messages[0].Content)
	default:
		t.Fatal("expected bob to receive the broadcast message frame")
	}

	select {
	case <-eve.send:
		t.Fatal("non-member must not receive the broadcast")
	default:
	}
}

func TestHub_HandleMessageFansOutToIngestorWithoutBlocking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	alice, _ := store.EnsureUser(ctx, "", "alice", "Alice", false)
	room, _ := store.CreateRoom(ctx, "general", "General", false, alice.ID)

	ing := &fakeIngestor{}
	hub := NewHub(store, ing, "chat:")
	c := &Client{userID: alice.ID, username: "alice", send: make(chan Frame, 4)}
	hub.register(c)

	hub.handleMessage(ctx, c, room.ID, "ping")
	<-c.send // the sender's own echo

	require.Eventually(t, func() bool { return len(ing.calls) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, ing.calls[0], "chat:"+room.ID)
}

func TestHub_HandleMessageRejectsNonMember(t *testing.T) {
	t.Parallel()
	hub, store, _, roomID := newTestHub(t)
	ctx := context.Background()
	outsider, _ := store.EnsureUser(ctx, "", "eve", "Eve", false)
	eve := &Client{userID: outsider.ID, username: "eve", send: make(chan Frame, 4)}
	hub.register(eve)

	hub.handleMessage(ctx, eve, roomID, "hi")

	f := <-eve.send
	assert.NotEmpty(t, f.Error)
}

func TestHub_PresenceFiresOnlyOnFirstAndLastConnection(t *testing.T) {
	t.Parallel()
	hub, _, aliceID, _ := newTestHub(t)

	c1 := &Client{userID: aliceID, username: "alice", send: make(chan Frame, 4)}
	c2 := &Client{userID: aliceID, username: "alice", send: make(chan Frame, 4)}

	assert.True(t, hub.register(c1), "first connection for a user")
	assert.False(t, hub.register(c2), "second connection for same user is not first")

	assert.False(t, hub.unregister(c1), "one connection still open")
	assert.True(t, hub.unregister(c2), "last connection closing")
}

func TestHub_BroadcastPersistsBotMessageAndDeliversToMembers(t *testing.T) {
	t.Parallel()
	hub, store, _, roomID := newTestHub(t)
	ctx := context.Background()

	bobID, _ := store.GetUserByUsername(ctx, "bob")
	bob := &Client{userID: bobID.ID, username: "bob", send: make(chan Frame, 4)}
	hub.register(bob)

	err := hub.Broadcast(ctx, "chat:"+roomID, []string{"reply chunk one", "reply chunk two"})
	require.NoError(t, err)
	assert.Len(t, bob.send, 2, "each chunk must be delivered to the connected member")

	msgs, _, err := store.ListMessages(ctx, roomID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "reply chunk one", msgs[0].Content)
}

func TestHub_HandleHistoryRejectsNonMember(t *testing.T) {
	t.Parallel()
	hub, store, _, roomID := newTestHub(t)
	ctx := context.Background()
	outsider, _ := store.EnsureUser(ctx, "", "eve", "Eve", false)
	eve := &Client{userID: outsider.ID, username: "eve", send: make(chan Frame, 4)}
	hub.register(eve)

	hub.handleHistory(ctx, eve, roomID, 0, 10)
	f := <-eve.send
	assert.NotEmpty(t, f.Error)
}
