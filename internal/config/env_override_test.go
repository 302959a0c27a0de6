package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("GEMINI_API_KEY selects gemini", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("ANTHROPIC_API_KEY overrides provider", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")

		cfg := &Config{LLM: LLMConfig{Provider: "initial"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})

	t.Run("Precedence: GEMINI overrides ANTHROPIC and OPENAI", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("Explicit provider and model", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("PAPER2NB_PROVIDER", "OpenAI")
		t.Setenv("PAPER2NB_MODEL", "gpt-4o-mini")
		t.Setenv("PAPER2NB_BASE_URL", "http://localhost:11434/v1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
		assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	})
}

func TestEnvOverrides_SandboxAndStore(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("PAPER2NB_IMAGE", "python:3.12")
	t.Setenv("PAPER2NB_SANDBOX", "LOCAL")
	t.Setenv("PAPER2NB_DB", "/tmp/runs.db")
	t.Setenv("PAPER2NB_DEBUG", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "python:3.12", cfg.Sandbox.Image)
	assert.Equal(t, "local", cfg.Sandbox.Backend)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"512m", 512 << 20, false},
		{"2G", 2 << 30, false},
		{"1024k", 1 << 20, false},
		{"4096", 4096, false},
		{"lots", 0, true},
		{"-1m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemory(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr string
	}{
		{name: "defaults", cfg: DefaultConfig().Logging},
		{name: "empty", cfg: LoggingConfig{}},
		{name: "json upper", cfg: LoggingConfig{Level: "WARN", Format: "JSON"}},
		{name: "bad level", cfg: LoggingConfig{Level: "trace"}, wantErr: "logging.level"},
		{name: "bad format", cfg: LoggingConfig{Format: "xml"}, wantErr: "logging.format"},
		{name: "debug without dir", cfg: LoggingConfig{DebugMode: true}, wantErr: "logging.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.True(t, LoggingConfig{Format: "json"}.JSON())
	assert.False(t, DefaultConfig().Logging.JSON())
}
