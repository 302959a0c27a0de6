package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"paper2nb/internal/logging"
)

// OpenAIClient implements Client for the OpenAI chat completions API and
// compatible servers reachable through BaseURL.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	jsonMode    bool
	httpClient  *http.Client
	maxRetries  int
	retryBase   time.Duration
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:          apiKey,
		BaseURL:         "https://api.openai.com/v1",
		Model:           "gpt-4o",
		Timeout:         5 * time.Minute,
		MaxOutputTokens: 16384,
		Temperature:     0.2,
		JSONMode:        true,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	defaults := DefaultOpenAIConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	return &OpenAIClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		maxTokens:   config.MaxOutputTokens,
		temperature: config.Temperature,
		jsonMode:    config.JSONMode,
		httpClient:  &http.Client{Timeout: config.Timeout},
		maxRetries:  3,
		retryBase:   time.Second,
	}
}

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[OpenAI] CompleteWithSystem: model=%s user_len=%d json=%v", c.model, len(userPrompt), c.jsonMode)

	if c.apiKey == "" {
		logging.APIError("[OpenAI] CompleteWithSystem: API key not configured")
		return Completion{}, fmt.Errorf("API key not configured")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := OpenAIRequest{
		Model: c.model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if c.jsonMode {
		reqBody.ResponseFormat = &OpenAIResponseFormat{Type: "json_object"}
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, c.retryBase*time.Duration(1<<uint(i-1))); err != nil {
				return Completion{}, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return Completion{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		status, body, err := doRequest(c.httpClient, req)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("transient API status %d", status)
			logging.APIWarn("[OpenAI] attempt %d: status %d", i+1, status)
			continue
		}
		if status != http.StatusOK {
			logging.APIError("[OpenAI] CompleteWithSystem: API returned status %d", status)
			return Completion{}, fmt.Errorf("API request failed with status %d: %s", status, string(body))
		}

		var oaResp OpenAIResponse
		if err := json.Unmarshal(body, &oaResp); err != nil {
			return Completion{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if oaResp.Error != nil {
			return Completion{}, fmt.Errorf("API error: %s", oaResp.Error.Message)
		}

		var text, finish string
		if len(oaResp.Choices) > 0 {
			text = oaResp.Choices[0].Message.Content
			finish = oaResp.Choices[0].FinishReason
		}
		comp := NewCompletion(ProviderOpenAI, c.model, text)
		comp.FinishReason = finish
		comp.InputTokens = oaResp.Usage.PromptTokens
		comp.OutputTokens = oaResp.Usage.CompletionTokens
		comp.Duration = time.Since(startTime)
		logging.API("[OpenAI] CompleteWithSystem: completed in %v response_len=%d", comp.Duration, len(comp.Text))
		return comp, nil
	}

	logging.APIError("[OpenAI] CompleteWithSystem: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}
