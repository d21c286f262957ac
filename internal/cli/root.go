// Package cli provides the command-line interface for tabwright.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tabwright-labs/tabwright/internal/cli/commands"
	"github.com/tabwright-labs/tabwright/internal/config"

	// Evaluator and diagnoser implementations register themselves.
	_ "github.com/tabwright-labs/tabwright/pkg/diagnosers/heuristic"
	_ "github.com/tabwright-labs/tabwright/pkg/diagnosers/openai"
	_ "github.com/tabwright-labs/tabwright/pkg/evaluators/http"
	_ "github.com/tabwright-labs/tabwright/pkg/evaluators/mock"
)

// Version information (set at build time via ldflags).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var cfgFile string

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tabwright",
		Short: "Tabwright - Semantic Model Mutation Engine",
		Long: `Tabwright applies measure changes to TMDL semantic models with
validation, test-backed execution, and automatic healing of failed steps.

Plans are YAML files describing create, update, and delete steps. Every
applied step is verified against the evaluation backend; a step whose tests
fail is diagnosed, repaired when the diagnosis is confident enough, and
rolled back otherwise.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := buildLogger(cfg, cmd.ErrOrStderr())

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				logger.Debug("configuration loaded",
					slog.String("model_root", cfg.ModelRoot),
					slog.String("state_path", cfg.StatePath),
					slog.String("evaluator", cfg.Evaluator.Type),
					slog.String("diagnoser", cfg.Diagnoser.Type))
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Semantic model mutation engine
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tabwright.yaml)")
	rootCmd.PersistentFlags().String("model-root", "", "Directory containing .tmdl model files")
	rootCmd.PersistentFlags().String("state", "", "Path to the run history database (:memory: for none)")
	rootCmd.PersistentFlags().String("evaluator", "", "Evaluator backend (mock|http)")
	rootCmd.PersistentFlags().String("diagnoser", "", "Failure diagnoser (heuristic|openai)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("evaluator", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"mock", "http"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("diagnoser", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"heuristic", "openai"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewApplyCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			return exitErr.Code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// buildLogger constructs the process logger from the loaded configuration.
// Text output goes to errOut unless a log file is configured, in which case
// a size-rotated file is the writer.
func buildLogger(cfg *config.Config, errOut io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		// Load already rejected unknown levels; this path is unreachable.
		level = slog.LevelInfo
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = errOut
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for tabwright.

To load completions:

Bash:
  $ source <(tabwright completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ tabwright completion bash > /etc/bash_completion.d/tabwright
  # macOS:
  $ tabwright completion bash > $(brew --prefix)/etc/bash_completion.d/tabwright

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ tabwright completion zsh > "${fpath[1]}/_tabwright"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ tabwright completion fish | source

  # To load completions for each session, execute once:
  $ tabwright completion fish > ~/.config/fish/completions/tabwright.fish

PowerShell:
  PS> tabwright completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> tabwright completion powershell > tabwright.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
	return cmd
}
