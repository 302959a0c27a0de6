package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"paper2nb/internal/logging"
)

// GeminiClient implements Client on top of the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	jsonMode    bool
	timeout     time.Duration
	maxRetries  int
	retryBase   time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		Timeout:         3 * time.Minute,
		MaxOutputTokens: 16384,
		Temperature:     0.2,
		JSONMode:        true,
	}
}

// NewGeminiClient creates a Gemini client. The SDK client is constructed
// once and reused for every call.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key not configured")
	}
	defaults := DefaultGeminiConfig(config.APIKey)
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaults.MaxOutputTokens
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logging.APIDebug("[Gemini] client created: model=%s json=%v", config.Model, config.JSONMode)
	return &GeminiClient{
		client:      client,
		model:       config.Model,
		maxTokens:   int32(config.MaxOutputTokens),
		temperature: float32(config.Temperature),
		jsonMode:    config.JSONMode,
		timeout:     config.Timeout,
		maxRetries:  3,
		retryBase:   time.Second,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	startTime := time.Now()
	logging.APIDebug("[Gemini] CompleteWithSystem: model=%s user_len=%d", c.model, len(userPrompt))

	temperature := c.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		MaxOutputTokens:   c.maxTokens,
	}
	if c.jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, c.retryBase*time.Duration(1<<uint(i-1))); err != nil {
				return Completion{}, err
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Completion{}, fmt.Errorf("gemini: %w", err)
			}
			lastErr = err
			logging.APIWarn("[Gemini] attempt %d failed: %v", i+1, err)
			continue
		}

		comp := NewCompletion(ProviderGemini, c.model, resp.Text())
		if len(resp.Candidates) > 0 {
			comp.FinishReason = string(resp.Candidates[0].FinishReason)
		}
		if resp.UsageMetadata != nil {
			comp.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			comp.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		comp.Duration = time.Since(startTime)
		logging.API("[Gemini] CompleteWithSystem: completed in %v response_len=%d finish=%s", comp.Duration, len(comp.Text), comp.FinishReason)
		return comp, nil
	}

	logging.APIError("[Gemini] CompleteWithSystem: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}
