package memory

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openAIEmbedder uses the hosted Embeddings API, the same client
// construction idiom as invoker.OpenAIProvider but pointed at
// Embeddings.New instead of Chat.Completions.New.
type openAIEmbedder struct {
	sdk        sdk.Client
	model      string
	dimensions int
}

func newOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) *openAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &openAIEmbedder{sdk: sdk.NewClient(opts...), model: model, dimensions: dimensions}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(e.model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("memory: embed: empty response")
	}
	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

func (e *openAIEmbedder) Dimensions() int { return e.dimensions }
