package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_DrainsAfterInitialWait(t *testing.T) {
	t.Parallel()
	b := New(Config{Initial: 20 * time.Millisecond})

	var mu sync.Mutex
	var drained []Message
	done := make(chan struct{})
	onDrain := func(channel string, messages []Message) {
		mu.Lock()
		drained = messages
		mu.Unlock()
		close(done)
	}

	b.Enqueue("C", "bot", "alice", false, "hi", onDrain)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, drained, 1)
	assert.Equal(t, "alice", drained[0].AuthorName)
}

func TestEnqueue_RapidMessagesEscalateWaitAndCoalesce(t *testing.T) {
	t.Parallel()
	b := New(Config{Initial: 30 * time.Millisecond, RapidThreshold: time.Second, Increment: 30 * time.Millisecond, Max: 200 * time.Millisecond})

	var mu sync.Mutex
	var drained []Message
	done := make(chan struct{})
	onDrain := func(channel string, messages []Message) {
		mu.Lock()
		drained = messages
		mu.Unlock()
		close(done)
	}

	b.Enqueue("C", "bot", "alice", false, "1", onDrain)
	time.Sleep(5 * time.Millisecond)
	b.Enqueue("C", "bot", "alice", false, "2", onDrain)
	time.Sleep(5 * time.Millisecond)
	b.Enqueue("C", "bot", "alice", false, "3", onDrain)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, drained, 3, "rapid messages must coalesce into a single drained batch")
}

func TestCancel_PreventsDrain(t *testing.T) {
	t.Parallel()
	b := New(Config{Initial: 20 * time.Millisecond})

	fired := false
	b.Enqueue("C", "bot", "alice", false, "1", func(channel string, messages []Message) { fired = true })
	b.Cancel("C")

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired, "a cancelled batch must never drain")
}

func TestTopology_ExcludesSelfAndStaleParticipants(t *testing.T) {
	t.Parallel()
	b := New(Config{HumanPresenceWindow: 50 * time.Millisecond})

	b.Observe("C", "bot", true)
	b.Observe("C", "alice", false)
	b.Observe("C", "carol", false)

	count, humanPresent := b.topology("C", "bot")
	assert.Equal(t, 2, count)
	assert.True(t, humanPresent)

	time.Sleep(80 * time.Millisecond)
	count, humanPresent = b.topology("C", "bot")
	assert.Equal(t, 0, count)
	assert.False(t, humanPresent)
}

func TestEnqueue_HumanTopologyUsesHumanInitialWait(t *testing.T) {
	t.Parallel()
	b := New(Config{Initial: time.Hour, HumanInitial: 15 * time.Millisecond})

	// Seed 3 active non-self participants, at least one human, before the
	// message that starts the batch.
	b.Observe("C", "dave", false)
	b.Observe("C", "erin", false)
	b.Observe("C", "frank", true)

	done := make(chan struct{})
	b.Enqueue("C", "bot", "alice", false, "hi", func(channel string, messages []Message) { close(done) })

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("batch should have used the short human-topology wait, not Initial")
	}
}
