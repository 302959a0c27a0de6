package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SandboxConfig configures where generated notebooks run.
type SandboxConfig struct {
	// Backend: "docker" (isolated container) or "local" (host shell, no isolation)
	Backend string `yaml:"backend"`

	// Image used to provision docker containers
	Image string `yaml:"image"`

	// Wall-clock budget for one notebook execution
	Timeout string `yaml:"timeout"`

	// Resource limits (docker only)
	MemoryLimit string  `yaml:"memory_limit"` // e.g. "512m", "2g"
	CPULimit    float64 `yaml:"cpu_limit"`
	Network     string  `yaml:"network"` // docker network mode; "none" blocks pip installs
}

// ValidSandboxBackends lists supported sandbox backends.
var ValidSandboxBackends = []string{"docker", "local"}

// Validate checks the sandbox settings.
func (s SandboxConfig) Validate() error {
	ok := false
	for _, b := range ValidSandboxBackends {
		if s.Backend == b {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid sandbox backend: %s (valid: %v)", s.Backend, ValidSandboxBackends)
	}
	if s.Backend == "docker" && s.Image == "" {
		return fmt.Errorf("sandbox.image is required for the docker backend")
	}
	if _, err := ParseMemory(s.MemoryLimit); err != nil {
		return fmt.Errorf("sandbox.memory_limit: %w", err)
	}
	if s.CPULimit < 0 {
		return fmt.Errorf("sandbox.cpu_limit must not be negative")
	}
	return nil
}

// MemoryBytes returns the memory limit in bytes (0 = unlimited).
func (s SandboxConfig) MemoryBytes() int64 {
	n, err := ParseMemory(s.MemoryLimit)
	if err != nil {
		return 0
	}
	return n
}

// ParseMemory parses docker-style sizes: "512m", "2g", "1024k", "1048576".
// Empty means unlimited (0).
func ParseMemory(v string) (int64, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return 0, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(v, "k"):
		mult = 1 << 10
	case strings.HasSuffix(v, "m"):
		mult = 1 << 20
	case strings.HasSuffix(v, "g"):
		mult = 1 << 30
	}
	if mult != 1 {
		v = v[:len(v)-1]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", v)
	}
	return n * mult, nil
}
