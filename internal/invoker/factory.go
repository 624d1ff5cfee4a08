package invoker

import (
	"context"
	"fmt"

	"github.com/lyra-systems/convbus/internal/config"
)

// NewProvider selects and constructs the Provider named by cfg.Provider,
// failing fast on an unknown or unconfigured backend — the same
// fail-fast-before-boot-completes shape used by claimstore.NewStore.
func NewProvider(ctx context.Context, cfg config.InvokerConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("invoker: openai provider requires OPENAI_API_KEY")
		}
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("invoker: anthropic provider requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicProvider(cfg), nil
	case "genai":
		if cfg.GenAIKey == "" {
			return nil, fmt.Errorf("invoker: genai provider requires GOOGLE_GENAI_API_KEY")
		}
		return NewGenAIProvider(ctx, cfg)
	case "subprocess":
		if cfg.Command == "" {
			return nil, fmt.Errorf("invoker: subprocess provider requires a command")
		}
		return NewSubprocessProvider(cfg), nil
	default:
		return nil, fmt.Errorf("invoker: unknown provider %q", cfg.Provider)
	}
}
