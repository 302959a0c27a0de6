package decompose

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"paper2nb/internal/ingest"
	"paper2nb/internal/logging"
	"paper2nb/internal/perception"
)

//go:embed prompts/decompose.txt
var defaultTemplate string

// CorrectionNotice is inserted into the prompt after an unparseable response.
const CorrectionNotice = "Your previous response was not valid JSON. Please output ONLY valid JSON with no additional text."

// DefaultMaxAttempts bounds model calls per chunk.
const DefaultMaxAttempts = 3

// Outcome is the terminal state of one chunk extraction.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeSkipped  Outcome = "skipped"
)

// Extraction is the result of extracting one chunk.
type Extraction struct {
	ChunkIndex int
	Outcome    Outcome
	Spec       *Spec // nil unless accepted
	Attempts   int
	LastError  error // last parse or model error when skipped
}

// Extractor prompts the model for the structured content of one chunk.
type Extractor struct {
	client      perception.Client
	template    string
	maxAttempts int
}

// NewExtractor creates an extractor with the built-in prompt template.
func NewExtractor(client perception.Client, maxAttempts int) *Extractor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Extractor{
		client:      client,
		template:    strings.TrimSpace(defaultTemplate),
		maxAttempts: maxAttempts,
	}
}

// WithTemplate replaces the prompt template.
func (e *Extractor) WithTemplate(template string) *Extractor {
	e.template = template
	return e
}

// Prompt returns the prompt for a chunk; corrective prompts carry the
// invalid-JSON notice.
func (e *Extractor) Prompt(chunk ingest.Chunk, corrective bool) string {
	if corrective {
		return fmt.Sprintf("%s\n\n%s\n\nPaper text:\n\n%s", e.template, CorrectionNotice, chunk.Text)
	}
	return fmt.Sprintf("%s\n\n---\n\nPaper text:\n\n%s", e.template, chunk.Text)
}

// Extract runs the bounded attempt cycle for one chunk. Attempt n moves to
// Accepted when the response yields a JSON object, to attempt n+1 with a
// corrective prompt otherwise, and to Skipped after the last attempt.
// Only context cancellation is returned as an error.
func (e *Extractor) Extract(ctx context.Context, chunk ingest.Chunk) (Extraction, error) {
	result := Extraction{ChunkIndex: chunk.Index}
	prompt := e.Prompt(chunk, false)

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		spec, err := e.attempt(ctx, prompt)
		if err == nil {
			result.Outcome = OutcomeAccepted
			result.Spec = spec
			logging.ExtractDebug("Chunk %d accepted on attempt %d: experiments=%d", chunk.Index, attempt, len(spec.Experiments))
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		result.LastError = err
		logging.ExtractWarn("Chunk %d attempt %d/%d failed: %v", chunk.Index, attempt, e.maxAttempts, err)
		if attempt >= e.maxAttempts {
			result.Outcome = OutcomeSkipped
			logging.Extract("Skipping chunk %d after %d failed attempts", chunk.Index, attempt)
			return result, nil
		}
		prompt = e.Prompt(chunk, true)
	}
}

func (e *Extractor) attempt(ctx context.Context, prompt string) (*Spec, error) {
	comp, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	raw, err := perception.ExtractJSON(comp.Text)
	if err != nil {
		return nil, err
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return &spec, nil
}
