package invoker

import (
	"context"
	"errors"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
)

const defaultInvokerMaxTokens int64 = 1024

// AnthropicProvider sends each call as a single-turn Messages.New request,
// stripped of prompt caching, extended thinking and tool calling.
type AnthropicProvider struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicProvider(cfg config.InvokerConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultInvokerMaxTokens}
}

func (p *AnthropicProvider) Send(ctx context.Context, model, prompt string, timeout time.Duration) (string, Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if model == "" {
		model = p.model
	}

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	resp, err := p.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	dur := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Dur("duration", dur).Msg("anthropic invoker timeout")
			return "", OutcomeTransportFailure, err
		}
		if isPromptTooLong(err.Error()) {
			return "", OutcomePromptTooLong, nil
		}
		log.Error().Err(err).Dur("duration", dur).Msg("anthropic invoker error")
		return "", OutcomeTransportFailure, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	out := sb.String()
	if isPromptTooLong(out) {
		return "", OutcomePromptTooLong, nil
	}
	return out, OutcomeOK, nil
}
