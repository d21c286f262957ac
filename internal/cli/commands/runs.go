package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	maxSummaryWidth = 48
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List workflow run history",
		Long: `List recorded workflow runs, newest first.

Use "runs show <id>" for the phases, healing attempts, and test results of
a single run.`,
		Example: `  # List the most recent runs
  tabwright runs

  # List the last 5 runs
  tabwright runs --limit 5

  # Show one run in full
  tabwright runs show 1f6c9852-6ce2-4f56-9935-40e298f8a33e`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func runRunsList(cmd *cobra.Command, opts *RunsOptions) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())
	out := cmd.OutOrStdout()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Status", "Phase", "Summary", "Started", "Duration"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Status,
			run.Phase,
			truncate(run.Summary, maxSummaryWidth),
			run.StartedAt.Local().Format(timestampLayout),
			formatSpan(run.StartedAt, run.CompletedAt),
		})
	}
	t.Render()
	return nil
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd, args[0])
		},
	}
}

func runRunsShow(cmd *cobra.Command, id string) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())
	out := cmd.OutOrStdout()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(id)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Run %s\n", run.ID)
	_, _ = fmt.Fprintf(out, "  Status:    %s\n", run.Status)
	_, _ = fmt.Fprintf(out, "  Phase:     %s\n", run.Phase)
	if run.Summary != "" {
		_, _ = fmt.Fprintf(out, "  Summary:   %s\n", run.Summary)
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(out, "  Error:     %s\n", run.Error)
	}
	_, _ = fmt.Fprintf(out, "  Started:   %s\n", run.StartedAt.Local().Format(timestampLayout))
	if run.CompletedAt != nil {
		_, _ = fmt.Fprintf(out, "  Completed: %s (%s)\n",
			run.CompletedAt.Local().Format(timestampLayout),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	phases, err := store.ListPhases(run.ID)
	if err != nil {
		return err
	}
	if len(phases) > 0 {
		_, _ = fmt.Fprintln(out)
		renderPhases(out, phases)
	}

	attempts, err := store.ListAttempts(run.ID)
	if err != nil {
		return err
	}
	if len(attempts) > 0 {
		_, _ = fmt.Fprintln(out, "\nHealing attempts:")
		renderAttempts(out, attempts)
	}

	pre, err := store.ListTestResults(run.ID, core.PhaseTestPre)
	if err != nil {
		return err
	}
	renderTests(out, "Baseline tests", pre)

	post, err := store.ListTestResults(run.ID, core.PhaseTestPost)
	if err != nil {
		return err
	}
	renderTests(out, "Post-mutation tests", post)

	return nil
}
