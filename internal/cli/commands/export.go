package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

// ExportOptions holds options for the export command.
type ExportOptions struct {
	Table  string
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the measures of a table as a DAX script",
		Long: `Render every measure of a table as a commented DAX script, suitable for
review or for pasting into other tools.`,
		Example: `  # Print the Sales measures to stdout
  tabwright export --table Sales

  # Write them to a file
  tabwright export --table Sales -o sales_measures.dax`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "Table whose measures to export")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Write the script to a file instead of stdout")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	_, tbl, err := cmdCtx.Engine.FindTable(opts.Table)
	if err != nil {
		return err
	}

	script := tmdl.ExportScript(tbl)
	if opts.Output == "" {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), script)
		return nil
	}

	if err := os.WriteFile(opts.Output, []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d measures to %s\n", len(tbl.Measures), opts.Output)
	return nil
}
