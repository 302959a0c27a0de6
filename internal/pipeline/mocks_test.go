package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"paper2nb/internal/ingest"
	"paper2nb/internal/notebook"
	"paper2nb/internal/perception"
	"paper2nb/internal/tactile"
)

const decompositionResponse = `{
  "title": "A Study on Synthetic Dataset Generation",
  "authors": ["John Doe", "Jane Smith"],
  "abstract": "We investigate synthetic dataset generation.",
  "sections": [{"id": "sec1", "heading": "Introduction", "summary": "Overview"}],
  "experiments": [{
    "id": "exp1",
    "title": "Logistic Regression Experiment",
    "description": "Train logistic regression on synthetic data",
    "dataset_info": {"name": "Synthetic", "size": "1000 samples", "is_synthetic": true},
    "inputs": "X~N(0,1)",
    "outputs": "Binary classification",
    "model_spec": {"type": "logistic_regression", "framework": "sklearn"},
    "hyperparameters": {"learning_rate": null},
    "metrics_reported": ["accuracy"],
    "key_figures": []
  }],
  "reproducibility_assessment": {"difficulty": "low", "estimated_effort_hours": 2, "notes": "Simple"}
}`

const cellsResponse = `{"cells": [
  {"cell_type": "markdown", "source": "# Logistic Regression Experiment"},
  {"cell_type": "code", "source": "import numpy as np"},
  {"cell_type": "code", "source": "df = pd.DataFrame(np.zeros(3))\nprint(df)"}
]}`

const fixResponse = `{"analysis": "pandas was never imported", "cells": [
  {"cell_index": 1, "source": "import numpy as np\nimport pandas as pd"}
]}`

const patchedImportCell = "import numpy as np\nimport pandas as pd"

// MockClient routes each prompt by kind to a canned response.
type MockClient struct {
	mu            sync.Mutex
	Decomposition string
	Cells         string
	Fix           string
	FixErr        error
	Prompts       []string
}

func newMockClient() *MockClient {
	return &MockClient{Decomposition: decompositionResponse, Cells: cellsResponse, Fix: fixResponse}
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (perception.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)

	switch {
	case strings.Contains(prompt, "Failing cell:"):
		if m.FixErr != nil {
			return perception.Completion{}, m.FixErr
		}
		return perception.NewCompletion("mock", "mock", m.Fix), nil
	case strings.Contains(prompt, "Experiment specification:"):
		return perception.NewCompletion("mock", "mock", m.Cells), nil
	default:
		return perception.NewCompletion("mock", "mock", m.Decomposition), nil
	}
}

func (m *MockClient) count(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.Prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

// MockExecutor returns Results in order, repeating the last one.
type MockExecutor struct {
	Results   []*tactile.NotebookResult
	Artifacts []*notebook.Artifact
	Options   []tactile.RunOptions
}

func (m *MockExecutor) Execute(ctx context.Context, artifact *notebook.Artifact, opts tactile.RunOptions) *tactile.NotebookResult {
	m.Artifacts = append(m.Artifacts, artifact.Clone())
	m.Options = append(m.Options, opts)
	i := len(m.Artifacts) - 1
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	r := *m.Results[i]
	return &r
}

func (m *MockExecutor) Calls() int { return len(m.Artifacts) }

func okResult(executed string) *tactile.NotebookResult {
	return &tactile.NotebookResult{
		ExitCode:         0,
		Stdout:           "[NbConvertApp] Writing 2048 bytes to executed_notebook.ipynb",
		Duration:         1500 * time.Millisecond,
		Artifacts:        []string{"/tmp/accuracy.png"},
		ExecutedNotebook: executed,
	}
}

func nameErrorResult() *tactile.NotebookResult {
	return &tactile.NotebookResult{
		ExitCode: 1,
		Stdout:   "[NbConvertApp] Converting notebook",
		Stderr: "Traceback (most recent call last):\n" +
			"  File \"<cell>\", line 1, in <module>\n" +
			"NameError: name 'pd' is not defined",
		Duration:  time.Second,
		Artifacts: []string{},
	}
}

// MockFetcher stands in for the HTTP fetcher. Download writes Text to a
// .txt file in the target directory.
type MockFetcher struct {
	Text        string
	DownloadErr error
	Metadata    *ingest.PaperMetadata
	MetadataErr error
	Downloads   []ingest.Source
}

func (m *MockFetcher) Download(ctx context.Context, src ingest.Source, dir string) (string, error) {
	m.Downloads = append(m.Downloads, src)
	if m.DownloadErr != nil {
		return "", m.DownloadErr
	}
	path := filepath.Join(dir, src.PaperID+".txt")
	if err := os.WriteFile(path, []byte(m.Text), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *MockFetcher) FetchArxivMetadata(ctx context.Context, id string) (*ingest.PaperMetadata, error) {
	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	if m.Metadata == nil {
		return nil, errors.New("no metadata")
	}
	return m.Metadata, nil
}

// MockSink records appended steps and can be made to fail.
type MockSink struct {
	Err   error
	Steps []string
}

func (m *MockSink) AppendStep(ctx context.Context, runID, step string, ts time.Time, data interface{}) error {
	m.Steps = append(m.Steps, runID+"/"+step)
	return m.Err
}
