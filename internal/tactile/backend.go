package tactile

import (
	"context"
	"fmt"
	"time"

	"paper2nb/internal/config"
	"paper2nb/internal/logging"
)

// SandboxBackend provisions, drives and tears down an execution sandbox.
//
// Run returns an error only when the command could not be run at all
// (sandbox gone, timeout, context canceled). A command that ran and exited
// non-zero is reported through RunOutput.
type SandboxBackend interface {
	Name() string
	Provision(ctx context.Context, image string, limits Limits) (Handle, error)
	Run(ctx context.Context, handle Handle, command string) (RunOutput, error)
	Close(ctx context.Context, handle Handle) error
}

// DefaultMaxOutputBytes caps captured output per command.
const DefaultMaxOutputBytes int64 = 10 * 1024 * 1024

// DefaultCommandTimeout applies when Limits.Timeout is unset.
const DefaultCommandTimeout = 10 * time.Minute

// waitDelay bounds how long a killed command may hold its output pipes.
const waitDelay = 2 * time.Second

// LimitsFromConfig converts sandbox settings into Limits.
func LimitsFromConfig(cfg config.SandboxConfig, timeout time.Duration) Limits {
	return Limits{
		MemoryBytes: cfg.MemoryBytes(),
		CPUs:        cfg.CPULimit,
		Network:     cfg.Network,
		Timeout:     timeout,
	}
}

// NewBackend returns the backend named by cfg.Backend.
// The docker backend fails fast when the daemon is not reachable.
func NewBackend(cfg config.SandboxConfig) (SandboxBackend, error) {
	switch cfg.Backend {
	case "", BackendDocker:
		b := NewDockerBackend()
		if !b.IsAvailable() {
			return nil, fmt.Errorf("docker is not available (use --backend local to run on the host)")
		}
		return b, nil
	case BackendLocal:
		logging.SandboxWarn("Using local sandbox backend: notebooks run on the host without isolation")
		return NewLocalBackend(), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend: %s", cfg.Backend)
	}
}

func commandTimeout(limits Limits) time.Duration {
	if limits.Timeout > 0 {
		return limits.Timeout
	}
	return DefaultCommandTimeout
}
