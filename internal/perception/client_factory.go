package perception

import (
	"context"
	"fmt"
	"os"
	"time"

	"paper2nb/internal/config"
)

// ProviderConfig holds the resolved provider and API key.
type ProviderConfig struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string
}

// DetectProvider resolves the provider from explicit config first, then
// environment variables (GEMINI > ANTHROPIC > OPENAI).
func DetectProvider(cfg config.LLMConfig) (*ProviderConfig, error) {
	if cfg.APIKey != "" && cfg.Provider != "" {
		return &ProviderConfig{
			Provider: Provider(cfg.Provider),
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
		}, nil
	}

	for _, p := range []struct {
		env      string
		provider Provider
	}{
		{"GEMINI_API_KEY", ProviderGemini},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"OPENAI_API_KEY", ProviderOpenAI},
	} {
		if key := os.Getenv(p.env); key != "" {
			model := cfg.Model
			if cfg.Provider != "" && Provider(cfg.Provider) != p.provider {
				// configured model belongs to a different provider
				model = ""
			}
			return &ProviderConfig{Provider: p.provider, APIKey: key, Model: model, BaseURL: cfg.BaseURL}, nil
		}
	}

	return nil, fmt.Errorf("no LLM API key found (set GEMINI_API_KEY, ANTHROPIC_API_KEY, or OPENAI_API_KEY)")
}

// NewClientFromConfig constructs the client for the configured provider.
// It is called once at process start; the client is then passed to every
// component that talks to the model.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (Client, error) {
	pc, err := DetectProvider(cfg)
	if err != nil {
		return nil, err
	}

	switch pc.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:          pc.APIKey,
			BaseURL:         pc.BaseURL,
			Model:           pc.Model,
			Timeout:         timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Temperature:     cfg.Temperature,
			JSONMode:        true,
		})
	case ProviderAnthropic:
		return NewAnthropicClientWithConfig(AnthropicConfig{
			APIKey:          pc.APIKey,
			BaseURL:         pc.BaseURL,
			Model:           pc.Model,
			Timeout:         timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Temperature:     cfg.Temperature,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:          pc.APIKey,
			BaseURL:         pc.BaseURL,
			Model:           pc.Model,
			Timeout:         timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Temperature:     cfg.Temperature,
			// compatible servers often reject response_format
			JSONMode: pc.BaseURL == "",
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", pc.Provider)
	}
}
