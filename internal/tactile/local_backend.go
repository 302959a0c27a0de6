package tactile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"paper2nb/internal/logging"
)

// tmpRef matches /tmp as a path component.
var tmpRef = regexp.MustCompile(`/tmp\b`)

// LocalBackend runs commands with the host shell inside a private temporary
// directory. References to /tmp in commands are rewritten to that directory
// so generated notebooks keep their output paths. There is no isolation and
// no memory or CPU limit; only the timeout applies.
type LocalBackend struct {
	shell     string
	baseDir   string
	maxOutput int64
}

// NewLocalBackend creates a host-shell backend rooted in os.TempDir.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		shell:     "sh",
		maxOutput: DefaultMaxOutputBytes,
	}
}

// Name implements SandboxBackend.
func (b *LocalBackend) Name() string { return BackendLocal }

// Provision creates the sandbox directory. The image is ignored.
func (b *LocalBackend) Provision(ctx context.Context, image string, limits Limits) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	dir, err := os.MkdirTemp(b.baseDir, "paper2nb-sandbox-*")
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create sandbox directory: %w", err)
	}
	logging.SandboxDebug("Local sandbox provisioned: %s (image %q ignored)", dir, image)
	return Handle{ID: dir, Backend: BackendLocal, WorkDir: dir, Limits: limits}, nil
}

// Run executes command with `sh -c` in the sandbox directory.
func (b *LocalBackend) Run(ctx context.Context, handle Handle, command string) (RunOutput, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "Local exec")
	defer timer.Stop()

	if handle.WorkDir == "" {
		return RunOutput{}, fmt.Errorf("sandbox not provisioned")
	}

	timeout := commandTimeout(handle.Limits)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rewritten := RewriteTmp(command, handle.WorkDir)
	logging.SandboxDebug("Local exec in %s: %s", handle.WorkDir, firstLine(rewritten))

	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, max: b.maxOutput}
	cmd := exec.CommandContext(execCtx, b.shell, "-c", rewritten)
	cmd.Dir = handle.WorkDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	err := cmd.Run()
	return finishRun(execCtx, err, &buf, out, timeout)
}

// Close removes the sandbox directory.
func (b *LocalBackend) Close(_ context.Context, handle Handle) error {
	if handle.WorkDir == "" {
		return nil
	}
	if err := os.RemoveAll(handle.WorkDir); err != nil {
		return fmt.Errorf("failed to remove sandbox directory: %w", err)
	}
	return nil
}

// RewriteTmp replaces /tmp path references in command with dir.
func RewriteTmp(command, dir string) string {
	return tmpRef.ReplaceAllLiteralString(command, dir)
}
