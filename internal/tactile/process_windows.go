//go:build windows

package tactile

import "os/exec"

// setupProcessGroup is a no-op on Windows; cancellation kills the shell only.
func setupProcessGroup(cmd *exec.Cmd) {}
