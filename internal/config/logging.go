package config

import (
	"fmt"
	"strings"
)

// LoggingConfig configures the per-category log files. With DebugMode off
// nothing is written.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	Dir        string          `yaml:"dir"`        // one file per category and day
	DebugMode  bool            `yaml:"debug_mode"` // master toggle
	Categories map[string]bool `yaml:"categories"` // unlisted categories are on
}

// JSON reports whether log files use the JSON encoder.
func (c LoggingConfig) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}

// Validate checks level and format. Empty values fall back to the defaults.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Format)
	}
	if c.DebugMode && c.Dir == "" {
		return fmt.Errorf("logging.dir is required when debug_mode is on")
	}
	return nil
}
