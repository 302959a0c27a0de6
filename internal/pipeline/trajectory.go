// Package pipeline drives a paper through ingest, decomposition, notebook
// synthesis and the execute/repair loop, recording every step.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paper2nb/internal/logging"
)

// Step names recorded in the trajectory.
const (
	StepArxivFetch         = "arxiv_fetch"
	StepTextExtraction     = "text_extraction"
	StepChunking           = "chunking"
	StepDecomposition      = "decomposition"
	StepNotebookGeneration = "notebook_generation"
	StepPreflight          = "preflight"
	StepExecution          = "execution"
	StepFixGeneration      = "fix_generation"
)

// Entry is one trajectory record.
type Entry struct {
	Step      string                 `json:"step"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// StepSink persists trajectory entries as they are logged.
// *store.RunStore implements it.
type StepSink interface {
	AppendStep(ctx context.Context, runID, step string, ts time.Time, data interface{}) error
}

// Trajectory is the append-only step log of one run. It is owned by a
// single controller and is not safe for concurrent use.
type Trajectory struct {
	entries []Entry
	sink    StepSink
	runID   string
	now     func() time.Time
}

// NewTrajectory creates an empty trajectory.
func NewTrajectory() *Trajectory {
	return &Trajectory{now: time.Now}
}

// Attach mirrors every subsequent entry to sink under runID.
func (t *Trajectory) Attach(sink StepSink, runID string) {
	t.sink = sink
	t.runID = runID
}

// Log appends an entry. Sink failures are logged and otherwise ignored:
// the in-memory trajectory stays authoritative.
func (t *Trajectory) Log(ctx context.Context, step string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	e := Entry{Step: step, Timestamp: t.now(), Data: data}
	t.entries = append(t.entries, e)
	logging.PipelineDebug("Trajectory: %s %v", step, data)

	if t.sink != nil {
		if err := t.sink.AppendStep(ctx, t.runID, e.Step, e.Timestamp, e.Data); err != nil {
			logging.PipelineWarn("Failed to persist step %s: %v", step, err)
		}
	}
}

// Entries returns a copy of the recorded entries in order.
func (t *Trajectory) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Trajectory) Len() int {
	return len(t.entries)
}

// Save writes the trajectory as an indented JSON list.
func (t *Trajectory) Save(path string) error {
	return writeJSON(path, t.Entries())
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
