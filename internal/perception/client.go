// Package perception is the model-facing layer of paper2nb: provider clients,
// call tracing, and defensive recovery of JSON from free-form completions.
package perception

import (
	"context"
	"strings"
	"time"
)

// NoOutputText is the Completion text used when a model returns nothing.
// It never parses as JSON, so callers that expect JSON re-prompt.
const NoOutputText = "[no output]"

const defaultSystemPrompt = "You are a research engineer who reproduces machine learning papers. " +
	"Follow the output format instructions exactly. When asked for JSON, output only JSON."

// Client is a best-effort completion endpoint: prompt in, text out.
// Implementations never guarantee well-formed output.
type Client interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Completion is the single result type returned by every Client.
// Text is always populated; when the model produced nothing Empty is true and
// Text is NoOutputText.
type Completion struct {
	Text         string        `json:"text"`
	Empty        bool          `json:"empty,omitempty"`
	Provider     Provider      `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// NewCompletion builds a Completion from raw model text, applying the
// NoOutputText fallback.
func NewCompletion(provider Provider, model, text string) Completion {
	text = strings.TrimSpace(text)
	c := Completion{Text: text, Provider: provider, Model: model}
	if text == "" {
		c.Text = NoOutputText
		c.Empty = true
	}
	return c
}

// Provider represents an LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (Completion, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, prompt string) (Completion, error) {
	return f(ctx, prompt)
}

type stepKey struct{}
type runKey struct{}

// WithStep labels model calls made with ctx by pipeline step (for tracing).
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey{}, step)
}

// StepFromContext returns the step label set by WithStep.
func StepFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stepKey{}).(string)
	return s
}

// WithRunID attributes model calls made with ctx to a pipeline run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runKey{}).(string)
	return s
}
