package invoker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
)

// OpenAIProvider renders each call as a single-message chat completion,
// stripped of tool calling, streaming and self-hosted tokenizer
// fallbacks — the invoker only ever needs a flat prompt-in, text-out turn.
type OpenAIProvider struct {
	sdk   sdk.Client
	model string
}

func NewOpenAIProvider(cfg config.InvokerConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func (p *OpenAIProvider) Send(ctx context.Context, model, prompt string, timeout time.Duration) (string, Outcome, error) {
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
	comp, err := p.sdk.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
	})
	dur := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Dur("duration", dur).Msg("openai invoker timeout")
			return "", OutcomeTransportFailure, err
		}
		if isPromptTooLong(err.Error()) {
			return "", OutcomePromptTooLong, nil
		}
		log.Error().Err(err).Dur("duration", dur).Msg("openai invoker error")
		return "", OutcomeTransportFailure, err
	}
	if len(comp.Choices) == 0 {
		return "", OutcomeTransportFailure, errors.New("openai: empty choices")
	}
	text := comp.Choices[0].Message.Content
	if isPromptTooLong(text) {
		return "", OutcomePromptTooLong, nil
	}
	return text, OutcomeOK, nil
}

// promptTooLongMarkers are substrings the invoker scans for in either stream
// (stdout/reply body here, since the hosted providers fold stderr into the
// SDK error) per §4.6's "detected by substring patterns in either stream".
var promptTooLongMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
	"reduce the length",
}

func isPromptTooLong(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range promptTooLongMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
