// Package assistant produces replies for the chat assistant and automated
// identities from an external text-generation service.
package assistant

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and a user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Providers accepted by NewGenerator.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type GeneratorConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseURL"`
}

// NewGenerator builds the generator selected by cfg.Provider. The none
// provider yields a nil generator, which makes every reply the fallback.
func NewGenerator(ctx context.Context, cfg GeneratorConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderNone:
		return nil, nil
	case ProviderGemini:
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported assistant provider %q", cfg.Provider)
	}
}
