// Package commands implements the tabwright subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tabwright-labs/tabwright/internal/cache"
	"github.com/tabwright-labs/tabwright/internal/config"
	"github.com/tabwright-labs/tabwright/internal/mutation"
	"github.com/tabwright-labs/tabwright/internal/state"
)

// configKey is used to store config in context.
type configKey struct{}

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFrom retrieves the config from the context, or defaults when absent.
func ConfigFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{
		ModelRoot: config.DefaultModelRoot,
		StatePath: config.DefaultStatePath,
	}
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom retrieves the logger from the context, or a discard logger when
// absent.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// ExitError carries a process exit code out of a command. A nil Err exits
// with Code without printing anything further.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Cache  *cache.Cache
	Engine *mutation.Engine
}

// NewCommandContext builds the document cache and mutation engine from the
// loaded configuration and discovers the model files.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	docs := cache.New(logger)
	eng := mutation.New(logger, cfg.ModelRoot, docs)
	if err := eng.Discover(); err != nil {
		return nil, fmt.Errorf("failed to discover model files: %w", err)
	}

	return &CommandContext{
		Cfg:    cfg,
		Logger: logger,
		Cache:  docs,
		Engine: eng,
	}, nil
}

// openStore opens the run history database, creating its directory and
// schema as needed. The caller must Close it.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	if cfg.StatePath != ":memory:" {
		dir := filepath.Dir(cfg.StatePath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
