package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all paper2nb configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Decomposition / synthesis / repair budgets
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Notebook execution sandbox
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Run history database
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PipelineConfig configures the paper -> notebook pipeline.
type PipelineConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`      // runes per chunk (default: 8000)
	ChunkOverlap   int    `yaml:"chunk_overlap"`   // runes shared by consecutive chunks (default: 200)
	MaxPages       int    `yaml:"max_pages"`       // 0 = all pages
	MaxRetries     int    `yaml:"max_retries"`     // re-prompts per extraction/synthesis (default: 3)
	MaxIterations  int    `yaml:"max_iterations"`  // execute/repair budget (default: 5)
	ExperimentCap  int    `yaml:"experiment_cap"`  // experiments kept after merge (default: 5)
	ExtractWorkers  int    `yaml:"extract_workers"`  // 1 = sequential extraction
	ToyMode         bool   `yaml:"toy_mode"`
	OutputDir       string `yaml:"output_dir"`
	DownloadTimeout string `yaml:"download_timeout"` // paper download budget (default: 2m)
}

// StoreConfig configures the SQLite run store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "paper2nb",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:        "gemini",
			Timeout:         "180s",
			MaxOutputTokens: 16384,
			Temperature:     0.2,
		},

		Pipeline: PipelineConfig{
			ChunkSize:       8000,
			ChunkOverlap:    200,
			MaxRetries:      3,
			MaxIterations:   5,
			ExperimentCap:   5,
			ExtractWorkers:  1,
			ToyMode:         true,
			OutputDir:       "output",
			DownloadTimeout: "2m",
		},

		Sandbox: SandboxConfig{
			Backend:     "docker",
			Image:       "python:3.11-slim",
			Timeout:     "600s",
			MemoryLimit: "2g",
			CPULimit:    2.0,
			Network:     "bridge",
		},

		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join("output", "paper2nb.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    filepath.Join("output", "logs"),
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Later keys win: GEMINI_API_KEY is the preferred provider.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if p := os.Getenv("PAPER2NB_PROVIDER"); p != "" {
		c.LLM.Provider = strings.ToLower(p)
	}
	if m := os.Getenv("PAPER2NB_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if u := os.Getenv("PAPER2NB_BASE_URL"); u != "" {
		c.LLM.BaseURL = u
	}

	if img := os.Getenv("PAPER2NB_IMAGE"); img != "" {
		c.Sandbox.Image = img
	}
	if b := os.Getenv("PAPER2NB_SANDBOX"); b != "" {
		c.Sandbox.Backend = strings.ToLower(b)
	}

	if path := os.Getenv("PAPER2NB_DB"); path != "" {
		c.Store.Path = path
	}
	if v := os.Getenv("PAPER2NB_DEBUG"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// ValidProviders lists supported LLM providers.
var ValidProviders = []string{"gemini", "anthropic", "openai"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, ANTHROPIC_API_KEY, or OPENAI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	return c.Sandbox.Validate()
}

// Validate checks pipeline budgets.
func (p PipelineConfig) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size), got %d", p.ChunkOverlap)
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be at least 1, got %d", p.MaxRetries)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be at least 1, got %d", p.MaxIterations)
	}
	if p.ExperimentCap < 1 {
		return fmt.Errorf("pipeline.experiment_cap must be at least 1, got %d", p.ExperimentCap)
	}
	if p.ExtractWorkers < 1 {
		return fmt.Errorf("pipeline.extract_workers must be at least 1, got %d", p.ExtractWorkers)
	}
	return nil
}

// GetLLMTimeout returns the per-call model timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 180 * time.Second
	}
	return d
}

// GetDownloadTimeout returns the paper download budget.
func (c *Config) GetDownloadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.DownloadTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// GetSandboxTimeout returns the notebook execution budget.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 600 * time.Second
	}
	return d
}
