package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"paper2nb/internal/logging"
)

// Labels stamped on every container so stray sandboxes can be found with
// `docker ps -a --filter label=paper2nb.managed=true`.
const (
	managedLabel = "paper2nb.managed=true"
	createdLabel = "paper2nb.created"
)

// DockerBackend runs each notebook in a long-lived container: created with
// `docker create ... sleep infinity`, driven with `docker exec`, removed
// with `docker rm -f`. State (installed packages, /tmp files) persists
// between Run calls on the same handle.
type DockerBackend struct {
	dockerPath string
	available  bool
	maxOutput  int64
}

// NewDockerBackend creates a docker backend and probes the daemon.
func NewDockerBackend() *DockerBackend {
	b := &DockerBackend{maxOutput: DefaultMaxOutputBytes}
	b.detectDocker()
	return b
}

// detectDocker checks if Docker is available.
func (b *DockerBackend) detectDocker() {
	logging.SandboxDebug("Detecting Docker availability")
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		logging.SandboxDebug("Docker binary not found in PATH")
		b.available = false
		return
	}
	b.dockerPath = dockerPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, dockerPath, "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		logging.SandboxWarn("Docker found but not responsive: %v", err)
		b.available = false
		return
	}

	b.available = true
	logging.Sandbox("Docker backend available: %s", dockerPath)
}

// IsAvailable returns whether Docker is available on this system.
func (b *DockerBackend) IsAvailable() bool {
	return b.available
}

// Name implements SandboxBackend.
func (b *DockerBackend) Name() string { return BackendDocker }

// Provision creates and starts a container.
func (b *DockerBackend) Provision(ctx context.Context, image string, limits Limits) (Handle, error) {
	if !b.available {
		return Handle{}, fmt.Errorf("Docker is not available")
	}
	if image == "" {
		return Handle{}, fmt.Errorf("no image specified")
	}

	name := "paper2nb-" + uuid.NewString()[:8]
	args := createArgs(name, image, limits, time.Now())
	logging.SandboxDebug("Docker create args: %v", args)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.dockerPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logging.SandboxError("Failed to create container: %v, stderr: %s", err, stderr.String())
		return Handle{}, fmt.Errorf("failed to create container: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	handle := Handle{
		ID:      strings.TrimSpace(stdout.String()),
		Backend: BackendDocker,
		Limits:  limits,
	}

	stderr.Reset()
	start := exec.CommandContext(ctx, b.dockerPath, "start", handle.ID)
	start.Stderr = &stderr
	if err := start.Run(); err != nil {
		logging.SandboxError("Failed to start container %s: %v", handle.ShortID(), err)
		_ = b.Close(ctx, handle)
		return Handle{}, fmt.Errorf("failed to start container: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	logging.Sandbox("Container started: %s (%s)", handle.ShortID(), image)
	return handle, nil
}

// Run executes command with `sh -c` inside the container.
func (b *DockerBackend) Run(ctx context.Context, handle Handle, command string) (RunOutput, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "Docker exec")
	defer timer.Stop()

	if !b.available {
		return RunOutput{}, fmt.Errorf("Docker is not available")
	}

	timeout := commandTimeout(handle.Limits)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec", handle.ID, "sh", "-c", command}
	logging.SandboxDebug("Docker exec in %s: %s", handle.ShortID(), firstLine(command))

	var buf bytes.Buffer
	out := &limitedWriter{w: &buf, max: b.maxOutput}
	cmd := exec.CommandContext(execCtx, b.dockerPath, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	return finishRun(execCtx, err, &buf, out, timeout)
}

// Close force-removes the container. It runs even when ctx is already
// canceled so an interrupted run does not leak containers.
func (b *DockerBackend) Close(ctx context.Context, handle Handle) error {
	if handle.ID == "" {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(closeCtx, b.dockerPath, "rm", "-f", handle.ID)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w: %s", handle.ShortID(), err, strings.TrimSpace(stderr.String()))
	}
	logging.SandboxDebug("Container removed: %s", handle.ShortID())
	return nil
}

// createArgs builds the `docker create` argument list.
func createArgs(name, image string, limits Limits, now time.Time) []string {
	args := []string{"create", "--name", name, "-w", "/tmp"}

	if limits.MemoryBytes > 0 {
		args = append(args, "--memory", fmt.Sprintf("%d", limits.MemoryBytes))
	}
	if limits.CPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.2f", limits.CPUs))
	}
	if limits.Network != "" {
		args = append(args, "--network", limits.Network)
	}

	args = append(args, "--label", managedLabel)
	args = append(args, "--label", fmt.Sprintf("%s=%d", createdLabel, now.Unix()))

	return append(args, image, "sleep", "infinity")
}

// finishRun maps an exec outcome onto RunOutput. Non-zero exits are
// results; timeouts, cancellation and start failures are errors.
func finishRun(execCtx context.Context, err error, buf *bytes.Buffer, out *limitedWriter, timeout time.Duration) (RunOutput, error) {
	result := RunOutput{Output: buf.String(), Truncated: out.truncated}
	if out.truncated {
		logging.SandboxWarn("Command output truncated: %d bytes discarded", out.discarded)
	}

	if err == nil {
		result.Succeeded = true
		return result, nil
	}

	switch ctxErr := execCtx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		logging.SandboxWarn("Command killed (timeout) after %s", timeout)
		return result, fmt.Errorf("command timed out after %s", timeout)
	case errors.Is(ctxErr, context.Canceled):
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		logging.SandboxDebug("Command exited non-zero: %d", result.ExitCode)
		return result, nil
	}
	logging.SandboxError("Command failed: %v", err)
	return result, err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i] + " ..."
	}
	return s
}
