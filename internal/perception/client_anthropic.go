package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"paper2nb/internal/logging"
)

// AnthropicClient implements Client for direct Anthropic API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	maxRetries  int
	retryBase   time.Duration
	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:          apiKey,
		BaseURL:         "https://api.anthropic.com/v1",
		Model:           "claude-sonnet-4-5",
		Timeout:         5 * time.Minute,
		MaxOutputTokens: 16384,
		Temperature:     0.2,
	}
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicClientWithConfig creates a new Anthropic client with custom config.
func NewAnthropicClientWithConfig(config AnthropicConfig) *AnthropicClient {
	defaults := DefaultAnthropicConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaults.MaxOutputTokens
	}
	return &AnthropicClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		maxTokens:   config.MaxOutputTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
		maxRetries:  3,
		retryBase:   time.Second,
	}
}

// Complete sends a prompt and returns the completion.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *AnthropicClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[Anthropic] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	if c.apiKey == "" {
		logging.APIError("[Anthropic] CompleteWithSystem: API key not configured")
		return Completion{}, fmt.Errorf("API key not configured")
	}

	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	c.throttle()

	reqBody := AnthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []AnthropicMessage{
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
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

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return Completion{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		status, body, err := doRequest(c.httpClient, req)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("transient API status %d", status)
			logging.APIWarn("[Anthropic] attempt %d: status %d", i+1, status)
			continue
		}
		if status != http.StatusOK {
			logging.APIError("[Anthropic] CompleteWithSystem: API returned status %d", status)
			return Completion{}, fmt.Errorf("API request failed with status %d: %s", status, string(body))
		}

		var anthropicResp AnthropicResponse
		if err := json.Unmarshal(body, &anthropicResp); err != nil {
			return Completion{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if anthropicResp.Error != nil {
			return Completion{}, fmt.Errorf("API error: %s", anthropicResp.Error.Message)
		}

		var result strings.Builder
		for _, content := range anthropicResp.Content {
			if content.Type == "text" {
				result.WriteString(content.Text)
			}
		}

		comp := NewCompletion(ProviderAnthropic, c.model, result.String())
		comp.FinishReason = anthropicResp.StopReason
		comp.InputTokens = anthropicResp.Usage.InputTokens
		comp.OutputTokens = anthropicResp.Usage.OutputTokens
		comp.Duration = time.Since(startTime)
		logging.API("[Anthropic] CompleteWithSystem: completed in %v response_len=%d", comp.Duration, len(comp.Text))
		return comp, nil
	}

	logging.APIError("[Anthropic] CompleteWithSystem: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

// doRequest executes req and returns the status and fully read body.
func doRequest(hc *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
