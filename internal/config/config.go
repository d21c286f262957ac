// Package config resolves runtime configuration from defaults, a YAML file,
// environment variables, and CLI flags, in rising precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// Defaults applied before any file, environment, or flag value.
const (
	DefaultModelRoot = "."
	DefaultStatePath = ".tabwright/state.db"
	DefaultLogLevel  = "info"
	DefaultTimeoutMS = 30000
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// ModelRoot is the directory scanned for model files.
	ModelRoot string `koanf:"model_root"`

	// StatePath is the SQLite run-history database, or ":memory:".
	StatePath string `koanf:"state_path"`

	Evaluator core.EvaluatorConfig `koanf:"evaluator"`
	Diagnoser core.DiagnoserConfig `koanf:"diagnoser"`
	Log       LogConfig            `koanf:"log"`
	Verbose   bool                 `koanf:"verbose"`
}

// LogConfig controls the CLI log handler. When File is set, output rotates
// under the size/backup/age limits; otherwise logs go to stderr.
type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// Validate checks the resolved configuration for values no component can
// start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelRoot) == "" {
		return fmt.Errorf("model_root is required")
	}
	if strings.TrimSpace(c.Evaluator.Type) == "" {
		return fmt.Errorf("evaluator.type is required")
	}
	if strings.TrimSpace(c.Diagnoser.Type) == "" {
		return fmt.Errorf("diagnoser.type is required")
	}
	if c.Evaluator.TimeoutMS < 0 {
		return fmt.Errorf("evaluator.timeout_ms must not be negative")
	}
	if c.Diagnoser.TimeoutMS < 0 {
		return fmt.Errorf("diagnoser.timeout_ms must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level. An empty name
// means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q, must be one of: debug, info, warn, error", level)
	}
}
