package invoker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyra-systems/convbus/internal/bus"
	"github.com/lyra-systems/convbus/internal/config"
)

type fakeProvider struct {
	calls     int
	responses []string
	outcomes  []Outcome
	lastErr   error
}

func (f *fakeProvider) Send(ctx context.Context, model, prompt string, timeout time.Duration) (string, Outcome, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], f.outcomes[i], f.lastErr
}

func testConfig() config.InvokerConfig {
	return config.InvokerConfig{
		Model:           "test-model",
		MaxContextToken: 1000,
		MaxTurns:        3,
		MaxIdle:         time.Hour,
		StartupPrompt:   "you are a test worker",
	}
}

func TestInvoke_StatelessCallReturnsText(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{responses: []string{"hello"}, outcomes: []Outcome{OutcomeOK}}
	inv := New(testConfig(), p)

	text, err := inv.Invoke(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestInvoke_PromptTooLongWrapsSentinel(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{responses: []string{""}, outcomes: []Outcome{OutcomePromptTooLong}}
	inv := New(testConfig(), p)

	_, err := inv.Invoke(context.Background(), "hi", Options{})
	assert.ErrorIs(t, err, bus.ErrPromptTooLong)
}

func TestInvoke_TransportFailureWrapsSentinel(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{responses: []string{""}, outcomes: []Outcome{OutcomeTransportFailure}, lastErr: errors.New("boom")}
	inv := New(testConfig(), p)

	_, err := inv.Invoke(context.Background(), "hi", Options{})
	assert.ErrorIs(t, err, bus.ErrWorkerFailure)
}

func TestInvoke_SessionAccumulatesTurnsAndTokens(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{responses: []string{"one", "two"}, outcomes: []Outcome{OutcomeOK, OutcomeOK}}
	inv := New(testConfig(), p)

	_, err := inv.Invoke(context.Background(), "first", Options{UseSession: true, SessionKey: "room-1"})
	require.NoError(t, err)
	_, err = inv.Invoke(context.Background(), "second", Options{UseSession: true, SessionKey: "room-1"})
	require.NoError(t, err)

	s := inv.getOrCreateSession("room-1")
	assert.Equal(t, 2, s.turns)
	assert.Contains(t, s.history.String(), "one")
	assert.Contains(t, s.history.String(), "two")
}

func TestInvoke_CheckAndRestartResetsSessionOnMaxTurns(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxTurns = 1
	p := &fakeProvider{responses: []string{"reply-a", "reply-b"}, outcomes: []Outcome{OutcomeOK, OutcomeOK}}
	inv := New(cfg, p)

	_, err := inv.Invoke(context.Background(), "first", Options{UseSession: true, SessionKey: "room-1"})
	require.NoError(t, err)
	_, err = inv.Invoke(context.Background(), "second", Options{UseSession: true, SessionKey: "room-1"})
	require.NoError(t, err)

	s := inv.getOrCreateSession("room-1")
	assert.Equal(t, 1, s.turns, "restart should reset turns before counting the new call")
	assert.NotContains(t, s.history.String(), "reply-a", "history should have been wiped on restart")
}

func TestInvokeWithRetry_ReducesPromptOnTooLong(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		responses: []string{"", "", "ok"},
		outcomes:  []Outcome{OutcomePromptTooLong, OutcomePromptTooLong, OutcomeOK},
	}
	inv := New(testConfig(), p)

	var reduceCalls int
	reduce := func(prompt string, attempt int) string {
		reduceCalls++
		return prompt[:len(prompt)/2]
	}

	text, err := inv.InvokeWithRetry(context.Background(), "a very long prompt indeed", Options{}, 5, reduce)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, reduceCalls)
}

func TestInvokeWithRetry_TerminalWithoutReducer(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{responses: []string{""}, outcomes: []Outcome{OutcomePromptTooLong}}
	inv := New(testConfig(), p)

	_, err := inv.InvokeWithRetry(context.Background(), "prompt", Options{}, 3, nil)
	assert.ErrorIs(t, err, bus.ErrPromptTooLong)
}

func TestCheckRefusal_WritesDiagnosticArtefactOnMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	checkRefusal(context.Background(), dir, "room-1", "I'm sorry, but as an AI language model I cannot do that.")

	entries, err := filepath.Glob(filepath.Join(dir, "refusal-room-1-*.txt"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCheckRefusal_NoArtefactWhenNoMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	checkRefusal(context.Background(), dir, "room-1", "sure, here is the summary you asked for")

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsPromptTooLong_MatchesKnownMarkers(t *testing.T) {
	t.Parallel()
	assert.True(t, isPromptTooLong("Error: context_length_exceeded"))
	assert.True(t, isPromptTooLong(strings.ToUpper("maximum context length reached")))
	assert.False(t, isPromptTooLong("here is your answer"))
}
