package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// InspectOptions holds options for the inspect command.
type InspectOptions struct {
	Watch bool
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the tables, measures, and relationships of the model",
		Long: `Parse the model files under the model root and print their tables,
measures, and relationships.

With --watch, tabwright keeps watching the model directory and re-renders
whenever a file changes on disk.`,
		Example: `  # Inspect the model in the current directory
  tabwright inspect

  # Inspect a specific model directory and keep watching it
  tabwright inspect --model-root ./model --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-render when model files change")

	return cmd
}

func runInspect(cmd *cobra.Command, opts *InspectOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	if err := renderModel(cmd.OutOrStdout(), cmdCtx); err != nil {
		return err
	}
	if !opts.Watch {
		return nil
	}
	return watchModel(cmd, cmdCtx)
}

func renderModel(w io.Writer, cmdCtx *CommandContext) error {
	paths := cmdCtx.Engine.Paths()
	_, _ = fmt.Fprintf(w, "Model: %s (%d files)\n", cmdCtx.Cfg.ModelRoot, len(paths))
	if len(paths) == 0 {
		return nil
	}

	tablesT := newTable(w)
	tablesT.AppendHeader(table.Row{"Table", "Columns", "Measures", "Partitions"})

	measuresT := newTable(w)
	measuresT.AppendHeader(table.Row{"Table", "Measure", "Expression", "Format"})

	relsT := newTable(w)
	relsT.AppendHeader(table.Row{"From", "To", "Cardinality", "Active"})
	relCount := 0

	for _, path := range paths {
		doc, err := cmdCtx.Cache.Get(path)
		if err != nil {
			return err
		}
		for _, t := range doc.Tables {
			tablesT.AppendRow(table.Row{t.Name, len(t.Columns), len(t.Measures), len(t.Partitions)})
			for _, m := range t.Measures {
				measuresT.AppendRow(table.Row{
					t.Name,
					m.Name,
					truncate(flatten(m.Expression), maxExpressionWidth),
					m.FormatString,
				})
			}
		}
		for _, r := range doc.Relationships {
			relsT.AppendRow(table.Row{
				r.FromColumn,
				r.ToColumn,
				fmt.Sprintf("%s-to-%s", r.FromCardinality, r.ToCardinality),
				yesNo(r.IsActive),
			})
			relCount++
		}
	}

	tablesT.Render()
	if measuresT.Length() > 0 {
		_, _ = fmt.Fprintln(w, "\nMeasures:")
		measuresT.Render()
	}
	if relCount > 0 {
		_, _ = fmt.Fprintln(w, "\nRelationships:")
		relsT.Render()
	}
	return nil
}

// watchModel blocks re-rendering the model on every on-disk change until the
// command is interrupted.
func watchModel(cmd *cobra.Command, cmdCtx *CommandContext) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	// Coalesce bursts of events; a single pending notification is enough
	// because re-rendering reads every file.
	events := make(chan string, 1)
	cmdCtx.Cache.NotifyInvalidate(func(path string) {
		select {
		case events <- path:
		default:
		}
	})

	watchErr := make(chan error, 1)
	go func() { watchErr <- cmdCtx.Cache.Watch(ctx, cmdCtx.Cfg.ModelRoot) }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "\nWatching for changes. Press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			return err
		case path := <-events:
			_, _ = fmt.Fprintf(out, "\n%s changed, reloading\n\n", path)
			if err := cmdCtx.Engine.Discover(); err != nil {
				_, _ = fmt.Fprintf(out, "reload failed: %v\n", err)
				continue
			}
			if err := renderModel(out, cmdCtx); err != nil {
				_, _ = fmt.Fprintf(out, "reload failed: %v\n", err)
			}
		}
	}
}
