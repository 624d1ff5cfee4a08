// Package invoker implements the Worker Invoker (spec component C6): a pool
// of long-lived LLM worker sessions with context-budget tracking and
// transparent restart, sitting in front of a pluggable Provider.
package invoker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lyra-systems/convbus/internal/bus"
	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
)

// Outcome distinguishes the three results a provider call can produce, per
// §4.6: a plain text reply, a context-window rejection, or a transport
// failure (timeout, crash, missing binary).
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomePromptTooLong
	OutcomeTransportFailure
)

// Provider sends a single rendered prompt to a worker (a hosted LLM API or a
// subprocess) and reports which of the three outcomes resulted. Providers
// are stateless; the Invoker owns session history and context accounting.
type Provider interface {
	Send(ctx context.Context, model, prompt string, timeout time.Duration) (text string, outcome Outcome, err error)
}

// Options configures a single Invoke call.
type Options struct {
	UseSession    bool
	SessionKey    string
	Timeout       time.Duration
	ModelOverride string
}

// session accumulates turn history for one session_key until a bound trips
// and check_and_restart tears it down.
type session struct {
	mu            sync.Mutex
	key           string
	turns         int
	contextTokens int
	history       strings.Builder
	lastActive    time.Time
}

// Invoker is the session pool described in §4.6.
type Invoker struct {
	provider Provider
	cfg      config.InvokerConfig

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs an Invoker around provider, using cfg's bounds and startup
// prompt.
func New(cfg config.InvokerConfig, provider Provider) *Invoker {
	return &Invoker{
		provider: provider,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// estimateTokens applies a rough token estimate: chars / 4.
func estimateTokens(s string) int {
	return len(s) / 4
}

func (inv *Invoker) getOrCreateSession(key string) *session {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	s, ok := inv.sessions[key]
	if !ok {
		s = &session{key: key, lastActive: time.Now()}
		s.history.WriteString(inv.cfg.StartupPrompt)
		s.contextTokens = estimateTokens(inv.cfg.StartupPrompt)
		inv.sessions[key] = s
	}
	return s
}

// checkAndRestart tears s down and re-initialises it with the startup
// prompt when any of max_context_tokens, max_turns or max_idle is exceeded.
// Caller must hold s.mu.
func (inv *Invoker) checkAndRestart(s *session) bool {
	exceeded := (inv.cfg.MaxContextToken > 0 && s.contextTokens >= inv.cfg.MaxContextToken) ||
		(inv.cfg.MaxTurns > 0 && s.turns >= inv.cfg.MaxTurns) ||
		(inv.cfg.MaxIdle > 0 && time.Since(s.lastActive) >= inv.cfg.MaxIdle)
	if !exceeded {
		return false
	}
	s.history.Reset()
	s.history.WriteString(inv.cfg.StartupPrompt)
	s.turns = 0
	s.contextTokens = estimateTokens(inv.cfg.StartupPrompt)
	return true
}

// Invoke renders prompt against the named session (or a one-off, stateless
// call when opts.UseSession is false), returning the reply text or a
// wrapped bus.ErrPromptTooLong / bus.ErrWorkerFailure.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.ModelOverride
	if model == "" {
		model = inv.cfg.Model
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = inv.cfg.Timeout
	}

	if !opts.UseSession {
		text, outcome, err := inv.provider.Send(ctx, model, prompt, timeout)
		return inv.finish(ctx, nil, prompt, text, outcome, err)
	}

	if opts.SessionKey == "" {
		return "", fmt.Errorf("invoker: use_session requires a session_key")
	}
	s := inv.getOrCreateSession(opts.SessionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	if restarted := inv.checkAndRestart(s); restarted {
		observability.LoggerWithTrace(ctx).Info().Str("session_key", s.key).Msg("invoker session restarted")
	}

	rendered := s.history.String() + "\n" + prompt
	text, outcome, err := inv.provider.Send(ctx, model, rendered, timeout)
	return inv.finish(ctx, s, prompt, text, outcome, err)
}

// finish applies the common outcome handling shared by session and one-off
// calls: bookkeeping on success, sentinel-wrapped errors otherwise, and the
// refusal-phrase diagnostic heuristic.
func (inv *Invoker) finish(ctx context.Context, s *session, prompt, text string, outcome Outcome, err error) (string, error) {
	switch outcome {
	case OutcomeOK:
		if err != nil {
			return "", fmt.Errorf("invoker: provider reported ok with error: %w", err)
		}
		if s != nil {
			s.turns++
			s.contextTokens += estimateTokens(prompt) + estimateTokens(text)
			s.lastActive = time.Now()
			s.history.WriteString("\n")
			s.history.WriteString(text)
		}
		checkRefusal(ctx, inv.cfg.DiagnosticsDir, sessionKeyOf(s), text)
		return text, nil
	case OutcomePromptTooLong:
		return "", fmt.Errorf("invoker: %w", bus.ErrPromptTooLong)
	default:
		if err != nil {
			return "", fmt.Errorf("invoker: worker transport failure: %w: %w", bus.ErrWorkerFailure, err)
		}
		return "", fmt.Errorf("invoker: worker transport failure: %w", bus.ErrWorkerFailure)
	}
}

func sessionKeyOf(s *session) string {
	if s == nil {
		return ""
	}
	return s.key
}
