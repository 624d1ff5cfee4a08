package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/debounce"
)

type fakeLedger struct {
	nextID   int64
	appended []InboundMessage
	mu       chanMutex
}

// chanMutex is a trivial mutex built on a channel so the fake can be safely
// touched from both the test goroutine and the batcher's timer goroutine.
type chanMutex chan struct{}

func (m *fakeLedger) Append(ctx context.Context, msg InboundMessage) (int64, bool, error) {
	m.lock()
	defer m.unlock()
	m.nextID++
	m.appended = append(m.appended, msg)
	return m.nextID, false, nil
}

func (m *fakeLedger) lock() {
	if m.mu == nil {
		m.mu = make(chanMutex, 1)
	}
	m.mu <- struct{}{}
}
func (m *fakeLedger) unlock() { <-m.mu }

func (m *fakeLedger) snapshot() []InboundMessage {
	m.lock()
	defer m.unlock()
	out := make([]InboundMessage, len(m.appended))
	copy(out, m.appended)
	return out
}

type fakeClaims struct {
	mu   chanMutex
	held map[string]string
}

func newFakeClaims() *fakeClaims { return &fakeClaims{mu: make(chanMutex, 1), held: map[string]string{}} }

func (f *fakeClaims) TryClaim(ctx context.Context, channel, message, instance string, ttl time.Duration) (bool, error) {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	key := channel + "/" + message
	if _, ok := f.held[key]; ok {
		return false, nil
	}
	f.held[key] = instance
	return true, nil
}

func (f *fakeClaims) Release(ctx context.Context, channel, message, instance string) error {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	key := channel + "/" + message
	if f.held[key] == instance {
		delete(f.held, key)
	}
	return nil
}

func (f *fakeClaims) snapshot() map[string]string {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	out := make(map[string]string, len(f.held))
	for k, v := range f.held {
		out[k] = v
	}
	return out
}

type fakeActiveMode struct {
	mu      chanMutex
	active  bool
	touched int
}

func newFakeActiveMode() *fakeActiveMode { return &fakeActiveMode{mu: make(chanMutex, 1)} }

func (f *fakeActiveMode) IsActive(ctx context.Context, channel string) (bool, error) {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	return f.active, nil
}
func (f *fakeActiveMode) Touch(ctx context.Context, channel string) error {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	f.touched++
	return nil
}
func (f *fakeActiveMode) touchedCount() int {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	return f.touched
}

type fakeMemory struct{}

func (f *fakeMemory) AmbientRecall(ctx context.Context, channel, context_ string) (string, error) {
	return "recall", nil
}
func (f *fakeMemory) FanOutIngest(ctx context.Context, m InboundMessage) {}

type fakeInvoker struct{ reply string }

func (f *fakeInvoker) Invoke(ctx context.Context, sessionKey, prompt string, timeout time.Duration) (string, error) {
	return f.reply, nil
}

type fakeBroadcaster struct {
	mu         chanMutex
	broadcasts [][]string
}

func newFakeBroadcaster() *fakeBroadcaster { return &fakeBroadcaster{mu: make(chanMutex, 1)} }

func (f *fakeBroadcaster) Broadcast(ctx context.Context, channel string, chunks []string) error {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	f.broadcasts = append(f.broadcasts, chunks)
	return nil
}
func (f *fakeBroadcaster) count() int {
	f.mu <- struct{}{}
	defer func() { <-f.mu }()
	return len(f.broadcasts)
}

const testDebounceWait = 10 * time.Millisecond

func newDispatcher(t *testing.T, reply string) (*Dispatcher, *fakeLedger, *fakeActiveMode, *fakeBroadcaster, *fakeClaims) {
	t.Helper()
	ledger := &fakeLedger{mu: make(chanMutex, 1)}
	active := newFakeActiveMode()
	broadcast := newFakeBroadcaster()
	claims := newFakeClaims()
	d := New(context.Background(), Deps{
		Ledger:    ledger,
		Claims:    claims,
		Active:    active,
		Memory:    &fakeMemory{},
		Invoker:   &fakeInvoker{reply: reply},
		Broadcast: broadcast,
		SelfName:  "bot",
		Instance:  "instance-a",
		ClaimTTL:  time.Minute,
	}, debounce.Config{Initial: testDebounceWait, HumanInitial: testDebounceWait}, nil)
	return d, ledger, active, broadcast, claims
}

func TestIngest_MentionTriggersReply(t *testing.T) {
	t.Parallel()
	d, ledger, active, broadcast, claims := newDispatcher(t, "hello back")

	err := d.Ingest(context.Background(), InboundMessage{
		Channel: "C", AuthorName: "alice", Content: "hey bot, help",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return broadcast.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, ledger.snapshot(), 2, "inbound + self-reply must both be appended")
	assert.Equal(t, 1, active.touchedCount())
	assert.Empty(t, claims.snapshot(), "claim must be released after a successful turn")
}

func TestIngest_PassiveSkipDoesNotBroadcast(t *testing.T) {
	t.Parallel()
	d, ledger, _, broadcast, claims := newDispatcher(t, passiveSkip)

	err := d.Ingest(context.Background(), InboundMessage{
		Channel: "C", AuthorName: "alice", Content: "hey bot",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(claims.snapshot()) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let any stray broadcast land before asserting its absence
	assert.Len(t, ledger.snapshot(), 1, "a passive skip must not append a self-reply")
	assert.Equal(t, 0, broadcast.count())
}

func TestIngest_ActiveModePassiveSkipStillTouches(t *testing.T) {
	t.Parallel()
	d, ledger, active, broadcast, claims := newDispatcher(t, passiveSkip)
	active.active = true

	err := d.Ingest(context.Background(), InboundMessage{
		Channel: "C", AuthorName: "alice", Content: "just chatting, no mention here",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(claims.snapshot()) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let any stray broadcast land before asserting its absence
	assert.Len(t, ledger.snapshot(), 1, "a passive skip must not append a self-reply")
	assert.Equal(t, 0, broadcast.count())
	assert.Equal(t, 1, active.touchedCount(), "active-mode-only turn that completes with a passive skip must still refresh the timer")
}

func TestIngest_NonMentionInactiveChannelStaysIdle(t *testing.T) {
	t.Parallel()
	d, ledger, _, broadcast, _ := newDispatcher(t, "unused")

	err := d.Ingest(context.Background(), InboundMessage{
		Channel: "C", AuthorName: "alice", Content: "just chatting",
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, ledger.snapshot(), 1)
	assert.Equal(t, 0, broadcast.count())
	assert.Equal(t, Idle, d.State("C"))
}

func TestIngest_DuplicateExternalIDIsNoOp(t *testing.T) {
	t.Parallel()
	d, _, _, _, _ := newDispatcher(t, "unused")

	dup := &dupOnceLedger{}
	d.deps.Ledger = dup

	err := d.Ingest(context.Background(), InboundMessage{Channel: "C", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, dup.calls)
}

type dupOnceLedger struct{ calls int }

func (l *dupOnceLedger) Append(ctx context.Context, m InboundMessage) (int64, bool, error) {
	l.calls++
	return 1, true, nil
}

func TestChunk_SplitsOversizedReply(t *testing.T) {
	t.Parallel()
	text := make([]byte, 2500)
	for i := range text {
		text[i] = 'a'
	}
	chunks := chunk(string(text), defaultChunkLimit)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], defaultChunkSplit)
}
