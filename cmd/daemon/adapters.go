package main

import (
	"context"
	"time"

	"github.com/lyra-systems/convbus/internal/dispatcher"
	"github.com/lyra-systems/convbus/internal/invoker"
	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory"
)

// ledgerAdapter narrows *ledger.Ledger to the dispatcher.Ledger contract:
// the dispatcher only ever appends, keyed off its own InboundMessage shape
// rather than ledger.Record directly, so C1 and C7 stay independently
// testable against their own narrower interfaces.
type ledgerAdapter struct {
	l *ledger.Ledger
}

func (a ledgerAdapter) Append(ctx context.Context, m dispatcher.InboundMessage) (int64, bool, error) {
	return a.l.Append(ctx, ledger.Record{
		ExternalID: m.ExternalID,
		Channel:    m.Channel,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Content:    m.Content,
		IsBot:      m.IsBot,
	})
}

// memoryRouterAdapter narrows *memory.Router to the dispatcher.MemoryRouter
// contract: a single-string ambient recall summary for prompt assembly, and
// a best-effort knowledge-graph ingest that never blocks the turn.
type memoryRouterAdapter struct {
	router *memory.Router
}

func (a memoryRouterAdapter) AmbientRecall(ctx context.Context, channel, context_ string) (string, error) {
	bundle, err := a.router.Recall(ctx, context_, 5)
	if err != nil {
		return "", err
	}
	return renderBundle(bundle), nil
}

func (a memoryRouterAdapter) FanOutIngest(ctx context.Context, m dispatcher.InboundMessage) {
	go func() {
		_, _ = a.router.Graph.Store(context.Background(), m.Content, map[string]any{
			"group":       m.Channel,
			"author_name": m.AuthorName,
		})
	}()
}

func renderBundle(b memory.Bundle) string {
	var out string
	out += b.Clock.Display
	if b.Clock.TimeOfDay != "" {
		out += " (" + b.Clock.TimeOfDay + ")"
	}
	out += "\n"
	for _, s := range b.Summaries {
		out += "summary: " + s.Text + "\n"
	}
	for _, t := range b.UnsummarizedTurns {
		out += t.AuthorName + ": " + t.Content + "\n"
	}
	for _, r := range b.Results {
		out += "recall[" + r.Source + "]: " + r.Content + "\n"
	}
	return out
}

// invokerAdapter narrows *invoker.Invoker to the dispatcher.Invoker
// contract, translating the dispatcher's (sessionKey, timeout) pair into
// invoker.Options.
type invokerAdapter struct {
	inv *invoker.Invoker
}

func (a invokerAdapter) Invoke(ctx context.Context, sessionKey, prompt string, timeout time.Duration) (string, error) {
	return a.inv.Invoke(ctx, prompt, invoker.Options{UseSession: true, SessionKey: sessionKey, Timeout: timeout})
}
