package config

// LLMConfig configures the model endpoint.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // gemini, anthropic, openai
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"` // OpenAI-compatible endpoints
	Timeout         string  `yaml:"timeout"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
}
