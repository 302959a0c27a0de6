package tactile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paper2nb/internal/logging"
	"paper2nb/internal/notebook"
)

// InstallCommand installs the notebook execution tooling in the sandbox.
const InstallCommand = "pip install -q nbconvert nbformat ipykernel 2>&1"

// ArtifactListCommand lists files notebooks are asked to produce.
const ArtifactListCommand = "ls -la /tmp/*.png /tmp/*.jpg /tmp/*.pdf /tmp/*.csv 2>/dev/null || true"

const heredocMarker = "NOTEBOOK_EOF"

// RunOptions configures one notebook execution.
type RunOptions struct {
	Image  string
	Limits Limits

	// NotebookPath is the host path of the source notebook. Its base name
	// names the notebook inside the sandbox and the executed copy is saved
	// next to it as <stem>_executed.ipynb. Empty means "notebook.ipynb" and
	// no executed copy.
	NotebookPath string
}

// NotebookRunner executes notebooks through a SandboxBackend.
type NotebookRunner struct {
	backend SandboxBackend
}

// NewNotebookRunner creates a runner on backend.
func NewNotebookRunner(backend SandboxBackend) *NotebookRunner {
	return &NotebookRunner{backend: backend}
}

// Backend returns the underlying backend.
func (r *NotebookRunner) Backend() SandboxBackend { return r.backend }

// Execute runs artifact to completion in a fresh sandbox.
//
// It never returns nil and never propagates backend errors: any failure
// yields ExitCode 1 with the cause in Stderr. The result is successful only
// when the nbconvert command reports success. The sandbox is always closed.
func (r *NotebookRunner) Execute(ctx context.Context, artifact *notebook.Artifact, opts RunOptions) *NotebookResult {
	start := time.Now()
	name := "notebook.ipynb"
	if opts.NotebookPath != "" {
		name = filepath.Base(opts.NotebookPath)
	}
	logging.Sandbox("Executing notebook %s on %s backend (image=%s)", name, r.backend.Name(), opts.Image)

	data, err := notebook.Marshal(artifact)
	if err != nil {
		return failedResult("", err, time.Since(start))
	}

	handle, err := r.backend.Provision(ctx, opts.Image, opts.Limits)
	if err != nil {
		logging.SandboxError("Provisioning failed: %v", err)
		return failedResult("", err, time.Since(start))
	}
	defer func() {
		if err := r.backend.Close(ctx, handle); err != nil {
			logging.SandboxWarn("Failed to close sandbox %s: %v", handle.ShortID(), err)
		}
	}()

	install, err := r.backend.Run(ctx, handle, InstallCommand)
	if err != nil {
		return failedResult("", fmt.Errorf("install notebook tooling: %w", err), time.Since(start))
	}
	if !install.Succeeded {
		logging.SandboxWarn("Package installation reported a problem: %s", truncateOutput(install.Output, 200))
	}

	transfer, err := r.backend.Run(ctx, handle, TransferCommand(name, data))
	if err == nil && !transfer.Succeeded {
		err = fmt.Errorf("exit %d: %s", transfer.ExitCode, strings.TrimSpace(transfer.Output))
	}
	if err != nil {
		return failedResult("", fmt.Errorf("transfer notebook: %w", err), time.Since(start))
	}

	outputName := "executed_" + name
	run, err := r.backend.Run(ctx, handle, ExecuteCommand(name, outputName, opts.Limits.Timeout))
	if err != nil {
		return failedResult(run.Output, fmt.Errorf("execute notebook: %w", err), time.Since(start))
	}

	result := &NotebookResult{
		ExitCode:  run.ExitCode,
		Stdout:    run.Output,
		Artifacts: []string{},
	}
	if !run.Succeeded && result.ExitCode == 0 {
		result.ExitCode = 1
	}

	if result.ExitCode == 0 && opts.NotebookPath != "" {
		result.ExecutedNotebook = r.saveExecuted(ctx, handle, outputName, opts.NotebookPath)
	}

	if listing, err := r.backend.Run(ctx, handle, ArtifactListCommand); err != nil {
		logging.SandboxWarn("Artifact listing failed: %v", err)
	} else {
		result.Artifacts = ParseArtifactListing(listing.Output, name, outputName)
	}

	result.Duration = time.Since(start)
	logging.Sandbox("Notebook %s finished: exit=%d duration=%s artifacts=%d",
		name, result.ExitCode, result.Duration, len(result.Artifacts))
	return result
}

// saveExecuted copies the executed notebook out of the sandbox and returns
// the host path, or "" when it could not be read or written.
func (r *NotebookRunner) saveExecuted(ctx context.Context, handle Handle, outputName, sourcePath string) string {
	read, err := r.backend.Run(ctx, handle, "cat /tmp/"+outputName)
	if err != nil || !read.Succeeded || strings.TrimSpace(read.Output) == "" {
		logging.SandboxWarn("Could not read executed notebook %s: %v", outputName, err)
		return ""
	}
	path := ExecutedPath(sourcePath)
	if err := os.WriteFile(path, []byte(read.Output), 0644); err != nil {
		logging.SandboxWarn("Could not save executed notebook: %v", err)
		return ""
	}
	logging.SandboxDebug("Saved executed notebook to %s", path)
	return path
}

// TransferCommand writes content to /tmp/<name> with a quoted heredoc.
func TransferCommand(name string, content []byte) string {
	return fmt.Sprintf("cat > /tmp/%s << '%s'\n%s\n%s", name, heredocMarker, content, heredocMarker)
}

// ExecuteCommand runs nbconvert on /tmp/<name>. A zero timeout leaves the
// per-cell timeout to nbconvert's default.
func ExecuteCommand(name, outputName string, timeout time.Duration) string {
	var b strings.Builder
	b.WriteString("cd /tmp && jupyter nbconvert --to notebook --execute ")
	fmt.Fprintf(&b, "--output %s ", outputName)
	if secs := int(timeout.Seconds()); secs > 0 {
		fmt.Fprintf(&b, "--ExecutePreprocessor.timeout=%d ", secs)
	}
	fmt.Fprintf(&b, "%s 2>&1", name)
	return b.String()
}

// ExecutedPath returns where the executed copy of a notebook is saved.
func ExecutedPath(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + "_executed.ipynb"
}

// ParseArtifactListing extracts file paths from `ls -la` output, skipping
// the listed notebook names.
func ParseArtifactListing(output string, exclude ...string) []string {
	artifacts := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) <= 8 {
			continue
		}
		file := fields[len(fields)-1]
		if containsString(exclude, filepath.Base(file)) {
			continue
		}
		artifacts = append(artifacts, file)
	}
	return artifacts
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
