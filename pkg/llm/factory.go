package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewGenerationClient creates the configured provider's client. Provider is
// "openai" (any OpenAI-compatible endpoint) or "anthropic".
func NewGenerationClient(provider string, cfg *Config, logger *zap.Logger) (GenerationClient, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}
