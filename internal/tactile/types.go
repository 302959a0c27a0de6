// Package tactile executes generated notebooks in a sandbox.
//
// A SandboxBackend provisions an isolated environment, runs shell commands
// inside it and tears it down. NotebookRunner drives a backend through the
// install, transfer, execute and collect sequence and always produces a
// NotebookResult, converting backend failures into a failed result.
//
// Backends:
//   - DockerBackend: long-running container (docker create + exec), with
//     memory, CPU and network limits
//   - LocalBackend: host shell in a temporary directory, no isolation
package tactile

import (
	"strings"
	"time"
)

// Backend names accepted by NewBackend.
const (
	BackendDocker = "docker"
	BackendLocal  = "local"
)

// Limits bounds a sandbox.
type Limits struct {
	// MemoryBytes caps container memory (0 = unlimited).
	MemoryBytes int64 `json:"memory_bytes,omitempty"`

	// CPUs caps container CPU shares (0 = unlimited).
	CPUs float64 `json:"cpus,omitempty"`

	// Network is the docker network mode ("" = docker default).
	Network string `json:"network,omitempty"`

	// Timeout bounds each command run inside the sandbox.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Handle identifies a provisioned sandbox.
type Handle struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`

	// WorkDir is the host directory backing the sandbox (local backend only).
	WorkDir string `json:"work_dir,omitempty"`

	Limits Limits `json:"limits"`
}

// ShortID returns the first 12 characters of the handle ID.
func (h Handle) ShortID() string {
	if len(h.ID) > 12 {
		return h.ID[:12]
	}
	return h.ID
}

// RunOutput is the outcome of one command in a sandbox.
// Succeeded is true only when the command exited 0.
type RunOutput struct {
	Output    string `json:"output"`
	Succeeded bool   `json:"succeeded"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
}

// NotebookResult is the immutable snapshot of one notebook execution.
type NotebookResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`

	// Artifacts are files the notebook produced (images, PDFs, CSVs).
	Artifacts []string `json:"artifacts"`

	// ExecutedNotebook is the host path of the executed copy, "" if none.
	ExecutedNotebook string `json:"executed_notebook,omitempty"`
}

// Succeeded reports whether the notebook ran to completion.
func (r *NotebookResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Combined returns stdout and stderr joined by a newline.
func (r *NotebookResult) Combined() string {
	if r == nil {
		return ""
	}
	return r.Stdout + "\n" + r.Stderr
}

// failedResult builds the result for an execution that could not complete.
func failedResult(stdout string, err error, duration time.Duration) *NotebookResult {
	msg := ""
	if err != nil {
		msg = "Sandbox execution error: " + strings.TrimSpace(err.Error())
	}
	return &NotebookResult{
		ExitCode:  1,
		Stdout:    stdout,
		Stderr:    msg,
		Duration:  duration,
		Artifacts: []string{},
	}
}
