package perception

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paper2nb/internal/logging"
)

// Trace captures one model interaction for later inspection.
type Trace struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TraceStore persists traces. Storage failures never fail the model call.
type TraceStore interface {
	StoreLLMTrace(ctx context.Context, trace *Trace) error
}

// TracingClient wraps any Client and records every interaction.
// Run and step attribution come from the call context (WithRunID, WithStep).
type TracingClient struct {
	underlying Client
	store      TraceStore
}

// NewTracingClient creates a tracing wrapper around an existing client.
func NewTracingClient(underlying Client, store TraceStore) *TracingClient {
	return &TracingClient{underlying: underlying, store: store}
}

// Complete implements Client with tracing.
func (tc *TracingClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	step := StepFromContext(ctx)
	runID := RunIDFromContext(ctx)

	start := time.Now()
	logging.API("LLM call started: run=%s step=%s prompt_len=%d", runID, step, len(prompt))

	comp, err := tc.underlying.Complete(ctx, prompt)

	duration := time.Since(start)
	if err != nil {
		logging.APIWarn("LLM call failed: step=%s duration=%v error=%v", step, duration, err)
	} else {
		logging.API("LLM call completed: step=%s duration=%v response_len=%d", step, duration, len(comp.Text))
	}

	if tc.store == nil {
		return comp, err
	}

	trace := &Trace{
		ID:         uuid.NewString(),
		RunID:      runID,
		Step:       step,
		Provider:   string(comp.Provider),
		Model:      comp.Model,
		Prompt:     prompt,
		Response:   comp.Text,
		DurationMs: duration.Milliseconds(),
		Success:    err == nil,
		CreatedAt:  time.Now(),
	}
	if err != nil {
		trace.Error = err.Error()
	}
	if storeErr := tc.store.StoreLLMTrace(ctx, trace); storeErr != nil {
		logging.APIDebug("Failed to store LLM trace: %v", storeErr)
	}

	return comp, err
}
