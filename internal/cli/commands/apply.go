package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabwright-labs/tabwright/internal/plan"
	"github.com/tabwright-labs/tabwright/internal/workflow"
	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

// ApplyOptions holds options for the apply command.
type ApplyOptions struct {
	PlanFile string
	Request  string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand() *cobra.Command {
	opts := &ApplyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a mutation plan to the model",
		Long: `Run a change request through the full workflow: clarification, static
validation, baseline tests, test-backed execution with healing, and
post-mutation verification.

The run and every phase, healing attempt, and test result are recorded in
the run history database.

Exit codes:
  0  run completed
  1  run failed (mutations rolled back)
  2  run is awaiting clarification (questions printed)`,
		Example: `  # Apply a plan
  tabwright apply --plan changes.yaml

  # Apply a plan against a specific model directory
  tabwright apply --plan changes.yaml --model-root ./model

  # Describe the change and let clarification guide you
  tabwright apply --request "delete the [Legacy Margin] measure"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.PlanFile, "plan", "p", "", "Path to the YAML mutation plan")
	cmd.Flags().StringVarP(&opts.Request, "request", "r", "", "Change request summary")

	return cmd
}

func runApply(cmd *cobra.Command, opts *ApplyOptions) error {
	if opts.PlanFile == "" && opts.Request == "" {
		return fmt.Errorf("either --plan or --request is required")
	}

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var loaded *core.Plan
	if opts.PlanFile != "" {
		loaded, err = plan.Load(opts.PlanFile)
		if err != nil {
			return err
		}
	}

	store, err := openStore(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eval, err := evaluator.NewEvaluator(cmdCtx.Cfg.Evaluator, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if err := eval.Connect(ctx, cmdCtx.Cfg.Evaluator); err != nil {
		return fmt.Errorf("failed to connect evaluator: %w", err)
	}
	defer func() { _ = eval.Close() }()

	diagnoser, err := diagnose.NewDiagnoser(cmdCtx.Cfg.Diagnoser, cmdCtx.Logger)
	if err != nil {
		return err
	}
	if err := diagnoser.Configure(cmdCtx.Cfg.Diagnoser); err != nil {
		return fmt.Errorf("failed to configure diagnoser: %w", err)
	}
	defer func() { _ = diagnoser.Close() }()

	ctrl, err := workflow.New(workflow.Options{
		Engine:    cmdCtx.Engine,
		Evaluator: eval,
		Diagnoser: diagnoser,
		Clarifier: &plan.RuleClarifier{Tables: cmdCtx.Engine},
		Planner:   &plan.StaticPlanner{Plan: loaded},
		Store:     store,
		Logger:    cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	summary := opts.Request
	if summary == "" && loaded != nil {
		summary = loaded.Summary
	}
	req := &core.ChangeRequest{Summary: summary, Plan: loaded}

	result, runErr := ctrl.Run(ctx, req)
	if result == nil {
		return runErr
	}

	renderApplyResult(cmd, result)

	if runErr != nil {
		return runErr
	}
	if result.Status == core.RunStatusAwaitingClarification {
		return &ExitError{Code: 2}
	}
	_, _ = fmt.Fprintf(out, "\nRun %s completed.\n", result.RunID)
	return nil
}

func renderApplyResult(cmd *cobra.Command, result *core.WorkflowResult) {
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintf(out, "Run %s: %s\n\n", result.RunID, result.Status)
	renderPhases(out, result.Phases)

	if len(result.Questions) > 0 {
		_, _ = fmt.Fprintln(out, "\nClarification needed before this request can proceed:")
		for i, q := range result.Questions {
			_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, q)
		}
	}

	renderSteps(out, result.Steps)
	renderTests(out, "Baseline tests", result.PreTests)
	renderTests(out, "Post-mutation tests", result.PostTests)
}
