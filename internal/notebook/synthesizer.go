package notebook

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"paper2nb/internal/decompose"
	"paper2nb/internal/logging"
	"paper2nb/internal/perception"
)

//go:embed prompts/synthesize.txt
var synthesisTemplate string

// ToyModeDirective forbids real dataset downloads in toy mode.
const ToyModeDirective = "\n\n**IMPORTANT: This is TOY MODE. You MUST use synthetic datasets. Do NOT download large real datasets.**"

// DefaultMaxAttempts bounds model calls per synthesis.
const DefaultMaxAttempts = 3

// SynthesisError is returned when no attempt produced a valid cell list.
type SynthesisError struct {
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("failed to generate valid notebook cells after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer asks the model for the cells of one experiment's notebook.
type Synthesizer struct {
	client      perception.Client
	template    string
	maxAttempts int
}

// NewSynthesizer creates a synthesizer with the built-in prompt template.
func NewSynthesizer(client perception.Client, maxAttempts int) *Synthesizer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Synthesizer{
		client:      client,
		template:    strings.TrimSpace(synthesisTemplate),
		maxAttempts: maxAttempts,
	}
}

// Prompt builds the synthesis prompt. A non-nil prevErr produces the
// corrective form naming the previous violation.
func (s *Synthesizer) Prompt(exp decompose.Experiment, toyMode bool, prevErr error) (string, error) {
	expJSON, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode experiment: %w", err)
	}
	header := s.template
	if toyMode {
		header += ToyModeDirective
	}
	if prevErr != nil {
		return fmt.Sprintf("%s\n\nYour previous response was invalid: %v\nPlease output ONLY valid JSON matching the schema.\n\nExperiment specification:\n\n%s",
			header, prevErr, expJSON), nil
	}
	return fmt.Sprintf("%s\n\n---\n\nExperiment specification:\n\n%s", header, expJSON), nil
}

// Synthesize produces the notebook for exp. Each attempt that does not
// yield a valid cell list is followed by a corrective prompt; after the
// last attempt a *SynthesisError is returned.
func (s *Synthesizer) Synthesize(ctx context.Context, exp decompose.Experiment, toyMode bool) (*Artifact, error) {
	logging.Synth("Generating notebook for experiment %s: %s (toy=%v)", exp.ID, exp.Title, toyMode)
	timer := logging.StartTimer(logging.CategorySynth, "Synthesize")
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		prompt, err := s.Prompt(exp, toyMode, lastErr)
		if err != nil {
			return nil, err
		}

		comp, err := s.client.Complete(ctx, prompt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = fmt.Errorf("model call failed: %w", err)
			logging.SynthWarn("Attempt %d/%d: %v", attempt, s.maxAttempts, lastErr)
			continue
		}

		cells, err := ParseCells(comp.Text)
		if err != nil {
			lastErr = err
			logging.SynthWarn("Failed to parse notebook cells (attempt %d/%d): %v", attempt, s.maxAttempts, err)
			continue
		}

		logging.Synth("Synthesized %d cells on attempt %d", len(cells), attempt)
		return NewArtifact(cells), nil
	}

	logging.SynthError("Giving up on experiment %s: %v", exp.ID, lastErr)
	return nil, &SynthesisError{Attempts: s.maxAttempts, Err: lastErr}
}

// ErrNoCells is the root of every cell-list validation failure.
var ErrNoCells = errors.New("invalid cell list")

// ParseCells extracts and validates the cell list from a model response:
// a non-empty "cells" list whose items have a cell_type of code or markdown
// and a string source.
func ParseCells(response string) ([]Cell, error) {
	raw, err := perception.ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	rawCells, ok := doc["cells"]
	if !ok {
		return nil, fmt.Errorf("%w: response missing 'cells' array", ErrNoCells)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawCells, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: cells must be a list", ErrNoCells)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cells list is empty", ErrNoCells)
	}

	cells := make([]Cell, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: Cell %d is not an object", ErrNoCells, i)
		}
		rawType, ok := fields["cell_type"]
		if !ok {
			return nil, fmt.Errorf("%w: Cell %d missing 'cell_type'", ErrNoCells, i)
		}
		var kind string
		_ = json.Unmarshal(rawType, &kind)
		if kind != string(CellCode) && kind != string(CellMarkdown) {
			return nil, fmt.Errorf("%w: Cell %d has invalid cell_type: %s", ErrNoCells, i, string(rawType))
		}
		rawSource, ok := fields["source"]
		if !ok {
			return nil, fmt.Errorf("%w: Cell %d missing 'source'", ErrNoCells, i)
		}
		var source string
		if err := json.Unmarshal(rawSource, &source); err != nil || strings.TrimSpace(string(rawSource)) == "null" {
			return nil, fmt.Errorf("%w: Cell %d source must be a string", ErrNoCells, i)
		}
		cells = append(cells, Cell{Kind: CellKind(kind), Source: source})
	}
	return cells, nil
}
