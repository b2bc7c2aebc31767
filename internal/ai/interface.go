package ai

import (
	"context"
	"fmt"

	"github.com/brodkin/clack-track-sub011/internal/config"
)

// Provider abstracts calls to a language model that writes frame text.
// To add a new provider:
//  1. Create a file in internal/ai/ (e.g. mymodel.go)
//  2. Implement Provider
//  3. Register in NewAll()
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string

	// IsAvailable verifies the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// Generate produces short display text for req. Implementations bound
	// each HTTP call with the configured timeout and surface status codes
	// in their errors so callers can classify them.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is the provider-independent prompt envelope built by a
// generator.
type GenerateRequest struct {
	// System sets the model's role (tone, form constraints).
	System string `json:"system,omitempty"`
	// Prompt is the user-level instruction, already populated with
	// template variables (weather data, countdown target, etc.).
	Prompt string `json:"prompt"`
	// MaxTokens caps the completion; frame text is tiny.
	MaxTokens int `json:"max_tokens"`
}

// NewAll returns the configured providers in fallback order: the primary
// first, then each cfg.Fallback entry. Unknown names are an error; unkeyed
// providers collapse to a Noop so callers should probe IsAvailable.
func NewAll(cfg config.AIConfig) ([]Provider, error) {
	names := append([]string{cfg.Provider}, cfg.Fallback...)
	providers := make([]Provider, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, err := newSingle(name, cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		providers = append(providers, &NoopProvider{})
	}
	return providers, nil
}

func newSingle(provider string, cfg config.AIConfig) (Provider, error) {
	switch provider {
	case "none":
		return &NoopProvider{}, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return &NoopProvider{}, nil
		}
		return NewOpenAI(cfg)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return &NoopProvider{}, nil
		}
		return NewAnthropic(cfg), nil
	case "ollama":
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q (supported: openai, anthropic, ollama)", provider)
	}
}
