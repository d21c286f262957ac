package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Load resolves configuration in rising precedence: built-in defaults, the
// config file, TABWRIGHT_-prefixed environment variables, then changed CLI
// flags. cfgFile names an explicit config file; empty means search the model
// root and the working directory for tabwright.yaml (a missing file is not
// an error, a named one must exist).
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"model_root":            DefaultModelRoot,
		"state_path":            DefaultStatePath,
		"evaluator.type":        "mock",
		"evaluator.timeout_ms":  DefaultTimeoutMS,
		"evaluator.max_retries": 2,
		"diagnoser.type":        "heuristic",
		"diagnoser.timeout_ms":  DefaultTimeoutMS,
		"log.level":             DefaultLogLevel,
		"log.max_size_mb":       20,
		"log.max_backups":       3,
		"log.max_age_days":      14,
		"verbose":               false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Flag-supplied paths are captured before layering so they stay anchored
	// at the caller's working directory, not the model root.
	flagState := stateFromFlags(flags)

	if path := findConfigFile(cfgFile, modelRootHint(flags)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// TABWRIGHT_EVALUATOR__ENDPOINT -> evaluator.endpoint
	if err := k.Load(env.Provider("TABWRIGHT_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "TABWRIGHT_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "state":
				return "state_path", posflag.FlagVal(flags, f)
			case "evaluator":
				return "evaluator.type", posflag.FlagVal(flags, f)
			case "diagnoser":
				return "diagnoser.type", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Relative state paths anchor at the model root so run history lives
	// next to the model it describes.
	if flagState != "" {
		cfg.StatePath = flagState
	} else if cfg.StatePath != ":memory:" {
		cfg.StatePath = resolveRelativeTo(cfg.StatePath, cfg.ModelRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile picks the config file: the explicit path when given, else
// the first tabwright.yaml/.yml under the model-root hint, else under the
// working directory.
func findConfigFile(explicit, modelRoot string) string {
	if explicit != "" {
		return explicit
	}
	var dirs []string
	if modelRoot != "" && modelRoot != "." {
		dirs = append(dirs, modelRoot)
	}
	dirs = append(dirs, ".")
	for _, dir := range dirs {
		for _, name := range []string{"tabwright.yaml", "tabwright.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func modelRootHint(flags *pflag.FlagSet) string {
	if flags == nil || !flags.Changed("model-root") {
		return ""
	}
	v, _ := flags.GetString("model-root")
	return v
}

func stateFromFlags(flags *pflag.FlagSet) string {
	if flags == nil || !flags.Changed("state") {
		return ""
	}
	v, _ := flags.GetString("state")
	if v == "" || v == ":memory:" {
		return v
	}
	if abs, err := filepath.Abs(v); err == nil {
		return abs
	}
	return filepath.Clean(v)
}

func resolveRelativeTo(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
