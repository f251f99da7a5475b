package llm

import (
	"fmt"

	"github.com/scrypster/schoolintel/internal/config"
)

// NewBackend creates the backend selected by cfg.Provider.
func NewBackend(cfg config.LLMConfig) (Backend, error) {
	base := BackendConfig{
		APIKey:      cfg.APIKey(),
		Model:       cfg.Model(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout(),
	}
	switch cfg.Provider {
	case "anthropic", "":
		base.BaseURL = cfg.AnthropicBaseURL
		return NewAnthropicClient(base), nil
	case "openai":
		base.BaseURL = cfg.OpenAIBaseURL
		return NewOpenAIClient(base), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
