package invoker

import (
	"context"
	"errors"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/observability"
)

// GenAIProvider sends each call as a single-content Models.GenerateContent
// request, stripped of streaming, tool calling and thought-signature
// bookkeeping.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

func NewGenAIProvider(ctx context.Context, cfg config.InvokerConfig) (*GenAIProvider, error) {
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GenAIKey})
	if err != nil {
		return nil, err
	}
	return &GenAIProvider{client: client, model: model}, nil
}

func (p *GenAIProvider) Send(ctx context.Context, model, prompt string, timeout time.Duration) (string, Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if model == "" {
		model = p.model
	}

	log := observability.LoggerWithTrace(ctx)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, nil)
	dur := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Dur("duration", dur).Msg("genai invoker timeout")
			return "", OutcomeTransportFailure, err
		}
		if isPromptTooLong(err.Error()) {
			return "", OutcomePromptTooLong, nil
		}
		log.Error().Err(err).Dur("duration", dur).Msg("genai invoker error")
		return "", OutcomeTransportFailure, err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", OutcomeTransportFailure, errors.New("genai: request blocked: " + string(resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", OutcomeTransportFailure, errors.New("genai: no candidates in response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	out := sb.String()
	if isPromptTooLong(out) {
		return "", OutcomePromptTooLong, nil
	}
	return out, OutcomeOK, nil
}
