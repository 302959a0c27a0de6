package notebook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper2nb/internal/decompose"
)

var testExperiment = decompose.Experiment{
	ID:              "exp1",
	Title:           "Logistic regression on synthetic data",
	Description:     "Train and report accuracy",
	MetricsReported: []string{"accuracy"},
}

const validCells = `{"cells": [
	{"cell_type": "markdown", "source": "# Logistic regression"},
	{"cell_type": "code", "source": "print('hello')"}
]}`

func TestSynthesize_Success(t *testing.T) {
	client := &MockClient{Responses: []string{"```json\n" + validCells + "\n```"}}
	a, err := NewSynthesizer(client, 3).Synthesize(context.Background(), testExperiment, true)
	require.NoError(t, err)
	require.Equal(t, 2, a.Len())
	assert.Equal(t, CellMarkdown, a.Cells[0].Kind)
	assert.Equal(t, "print('hello')", a.Cells[1].Source)

	require.Len(t, client.Prompts, 1)
	p := client.Prompts[0]
	assert.Contains(t, p, ToyModeDirective)
	assert.Contains(t, p, "\n\n---\n\nExperiment specification:\n\n{")
	assert.Contains(t, p, `"id": "exp1"`)
	assert.Contains(t, p, `"metrics_reported": [`)
}

func TestSynthesize_NoToyDirective(t *testing.T) {
	client := &MockClient{Responses: []string{validCells}}
	_, err := NewSynthesizer(client, 3).Synthesize(context.Background(), testExperiment, false)
	require.NoError(t, err)
	assert.NotContains(t, client.Prompts[0], "TOY MODE")
}

func TestSynthesize_RetryNamesViolation(t *testing.T) {
	client := &MockClient{Responses: []string{
		`{"cells": [{"cell_type": "code"}]}`,
		validCells,
	}}
	a, err := NewSynthesizer(client, 3).Synthesize(context.Background(), testExperiment, true)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())

	require.Len(t, client.Prompts, 2)
	assert.Contains(t, client.Prompts[1], "Your previous response was invalid:")
	assert.Contains(t, client.Prompts[1], "Cell 0 missing 'source'")
	assert.Contains(t, client.Prompts[1], ToyModeDirective)
}

func TestSynthesize_FailsHard(t *testing.T) {
	client := &MockClient{Responses: []string{`{"cells": []}`}}
	_, err := NewSynthesizer(client, 3).Synthesize(context.Background(), testExperiment, true)
	var se *SynthesisError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 3, se.Attempts)
	assert.ErrorIs(t, err, ErrNoCells)
	assert.Len(t, client.Prompts, 3)
}

func TestSynthesize_ModelErrorsExhaust(t *testing.T) {
	boom := errors.New("overloaded")
	client := &MockClient{Errs: []error{boom, boom}, Responses: []string{"", "", validCells}}
	a, err := NewSynthesizer(client, 3).Synthesize(context.Background(), testExperiment, true)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
}

func TestParseCells(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  string
	}{
		{"no json", "sorry", "no valid JSON"},
		{"missing cells", `{"notebook": []}`, "missing 'cells'"},
		{"cells not list", `{"cells": {"a": 1}}`, "cells must be a list"},
		{"cells null", `{"cells": null}`, "cells must be a list"},
		{"empty", `{"cells": []}`, "cells list is empty"},
		{"cell not object", `{"cells": ["print(1)"]}`, "Cell 0 is not an object"},
		{"missing type", `{"cells": [{"source": "x"}]}`, "Cell 0 missing 'cell_type'"},
		{"bad type", `{"cells": [{"cell_type": "code", "source": "x"}, {"cell_type": "raw", "source": "y"}]}`, `Cell 1 has invalid cell_type: "raw"`},
		{"source list", `{"cells": [{"cell_type": "code", "source": ["a", "b"]}]}`, "Cell 0 source must be a string"},
		{"source null", `{"cells": [{"cell_type": "code", "source": null}]}`, "Cell 0 source must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCells(tt.response)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q does not contain %q", err, tt.wantErr)
		})
	}
}
