// Package heal runs the self-healing execution loop: apply a mutation, test
// it, diagnose failures, retry corrected expressions, and roll back when no
// attempt sticks.
package heal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabwright-labs/tabwright/internal/mutation"
	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

const (
	// MaxAttempts bounds the apply-test-diagnose cycles for one step.
	MaxAttempts = 3
	// ConfidenceFloor is the minimum confidence of the last applied fix for
	// the loop to seek another diagnosis after that fix fails.
	ConfidenceFloor = 0.5
)

// Synthetic test names for failures that happen before any query runs.
const (
	TestSyntax = "syntax-validation"
	TestApply  = "apply"
)

// Controller drives the healing loop for one mutation step at a time.
type Controller struct {
	logger    *slog.Logger
	engine    *mutation.Engine
	evaluator evaluator.Evaluator
	diagnoser diagnose.Diagnoser
}

// New creates a healing controller.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger, engine *mutation.Engine, eval evaluator.Evaluator, diag diagnose.Diagnoser) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{logger: logger, engine: engine, evaluator: eval, diagnoser: diag}
}

// target is the resolved destination of a step, captured before any attempt
// so the battery and the diff anchor on pre-mutation state.
type target struct {
	path       string
	table      string
	expression string // current expression for updates, empty for creates
	column     string // first parsed column of the table, for the battery
}

// Run executes one mutation step under the healing loop. stepOrdinal is the
// 1-based position of the step in its plan, recorded on every attempt. Typed
// mutation errors (missing targets, name conflicts) surface as errors before
// any attempt. Evaluator transport failures abort the run after restoring the
// document; timed-out calls and diagnoser failures count as failed tests or
// diagnoses and stay inside the loop. When the document cannot be restored,
// the result carries state rollback_failed and the rollback error is returned
// alongside it.
func (c *Controller) Run(ctx context.Context, stepOrdinal int, step *core.MutationStep, extra []core.TestQuery) (*core.HealResult, error) {
	tgt, err := c.resolve(step)
	if err != nil {
		return nil, err
	}
	before, err := os.ReadFile(tgt.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", tgt.path, err)
	}

	var res *core.HealResult
	var runErr error
	if step.Action == core.ActionDelete {
		res, runErr = c.runDelete(ctx, stepOrdinal, step, extra)
	} else {
		res, runErr = c.runExpression(ctx, stepOrdinal, step, tgt, extra)
	}
	if res == nil {
		return nil, runErr
	}

	after, err := os.ReadFile(tgt.path)
	if err != nil {
		return res, errors.Join(runErr, fmt.Errorf("failed to read %s: %w", tgt.path, err))
	}
	diff, err := tmdl.UnifiedDiff(before, after, tgt.path)
	if err != nil {
		return res, errors.Join(runErr, fmt.Errorf("failed to diff %s: %w", tgt.path, err))
	}
	res.Diff = diff
	return res, runErr
}

func (c *Controller) resolve(step *core.MutationStep) (*target, error) {
	switch step.Action {
	case core.ActionCreate:
		if step.Expression == nil || strings.TrimSpace(*step.Expression) == "" {
			return nil, fmt.Errorf("create for measure %q requires an expression", step.Measure)
		}
		doc, t, err := c.engine.FindTable(step.Table)
		if err != nil {
			return nil, err
		}
		// Names are unique per table; the same name in another table is fine.
		if t.Measure(step.Measure) != nil {
			return nil, &core.NameConflictError{Table: t.Name, Measure: step.Measure}
		}
		return &target{path: doc.Path, table: t.Name, column: firstColumn(t)}, nil

	case core.ActionUpdate, core.ActionDelete:
		doc, t, m, err := c.engine.FindMeasure(step.Table, step.Measure)
		if err != nil {
			return nil, err
		}
		step.Table = t.Name
		return &target{path: doc.Path, table: t.Name, expression: m.Expression, column: firstColumn(t)}, nil
	}
	return nil, fmt.Errorf("unknown step action %q", step.Action)
}

func (c *Controller) runExpression(ctx context.Context, stepOrdinal int, step *core.MutationStep, tgt *target, extra []core.TestQuery) (*core.HealResult, error) {
	res := &core.HealResult{}
	battery := append(DefaultBattery(tgt.table, step.Measure, tgt.column), extra...)

	expression := tgt.expression
	if step.Expression != nil {
		expression = *step.Expression
	}
	applied := false
	// Confidence of the diagnosis that produced the current expression;
	// 1 for the planned expression, which is not gated.
	fixConfidence := 1.0

	for ordinal := 1; ordinal <= MaxAttempts; ordinal++ {
		attempt := newAttempt(stepOrdinal, ordinal, expression)
		res.Attempts = append(res.Attempts, attempt)

		tests, appliedNow, err := c.attemptOnce(ctx, step, expression, applied, battery)
		if err != nil {
			if applied || appliedNow {
				if rbErr := c.engine.Revert(step); rbErr != nil {
					err = errors.Join(err, rbErr)
				}
			}
			return nil, err
		}
		applied = applied || appliedNow
		attempt.Applied = appliedNow
		attempt.Tests = tests
		finishAttempt(attempt)

		if allPassed(tests) {
			res.State = core.HealSucceeded
			res.FinalExpression = expression
			c.logger.Info("heal succeeded",
				slog.String("measure", step.Measure),
				slog.Int("attempts", ordinal))
			return res, nil
		}
		if ordinal == MaxAttempts {
			break
		}
		if fixConfidence < ConfidenceFloor {
			c.logger.Warn("low-confidence correction failed its tests",
				slog.String("measure", step.Measure),
				slog.Float64("confidence", fixConfidence))
			res.GaveUpEarly = true
			break
		}

		rec, derr := c.diagnoser.Diagnose(ctx, diagnose.Failure{
			Table:      tgt.table,
			Measure:    step.Measure,
			Expression: expression,
			Tests:      tests,
		})
		if derr != nil {
			var inconclusive *core.DiagnosisInconclusiveError
			if errors.As(derr, &inconclusive) {
				c.logger.Warn("diagnosis inconclusive", slog.String("measure", step.Measure))
			} else {
				c.logger.Warn("diagnosis failed",
					slog.String("measure", step.Measure),
					slog.String("error", derr.Error()))
			}
			res.GaveUpEarly = true
			break
		}
		attempt.Diagnosis = rec

		if rec.CorrectedExpression == "" || rec.CorrectedExpression == expression {
			c.logger.Warn("giving up on correction",
				slog.String("measure", step.Measure),
				slog.String("root_cause", rec.RootCause),
				slog.Float64("confidence", rec.Confidence))
			res.GaveUpEarly = true
			break
		}

		c.logger.Info("retrying with corrected expression",
			slog.String("measure", step.Measure),
			slog.String("root_cause", rec.RootCause),
			slog.Float64("confidence", rec.Confidence))
		expression = rec.CorrectedExpression
		fixConfidence = rec.Confidence
	}

	if !applied {
		res.State = core.HealRolledBack
		res.FinalExpression = tgt.expression
		return res, nil
	}
	if err := c.engine.Revert(step); err != nil {
		c.logger.Error("rollback failed",
			slog.String("measure", step.Measure),
			slog.String("error", err.Error()))
		res.State = core.HealRollbackFailed
		res.FinalExpression = expression
		return res, err
	}
	res.State = core.HealRolledBack
	res.FinalExpression = tgt.expression
	return res, nil
}

// attemptOnce runs the pre-checks, applies the candidate expression, and
// executes the battery. The bool reports whether a mutation was applied in
// this call. A non-nil error is a transport failure, never a test failure.
func (c *Controller) attemptOnce(ctx context.Context, step *core.MutationStep, expression string, applied bool, battery []core.TestQuery) ([]core.TestResult, bool, error) {
	// Structural balance is checked locally before any service call.
	if sr := evaluator.CheckBalance(expression); !sr.Valid {
		return []core.TestResult{syntheticFail(TestSyntax, sr.Message)}, false, nil
	}
	sr, err := c.evaluator.ValidateSyntax(ctx, expression)
	if err != nil {
		if timedOut(err) {
			return []core.TestResult{syntheticFail(TestSyntax, err.Error())}, false, nil
		}
		return nil, false, fmt.Errorf("syntax validation failed: %w", err)
	}
	if !sr.Valid {
		return []core.TestResult{syntheticFail(TestSyntax, sr.Message)}, false, nil
	}

	if err := c.applyExpression(step, expression, applied); err != nil {
		// Typed mutation failures were ruled out at resolve time; what is
		// left is IO-class and goes to diagnosis like any other failure.
		return []core.TestResult{syntheticFail(TestApply, err.Error())}, false, nil
	}

	tests, err := c.runTests(ctx, battery)
	if err != nil {
		return nil, true, err
	}
	return tests, true, nil
}

// applyExpression performs the first apply through the original step so its
// rollback captures land there; later attempts are plain expression updates.
func (c *Controller) applyExpression(step *core.MutationStep, expression string, applied bool) error {
	expr := expression
	if !applied {
		step.Expression = &expr
		return c.engine.Apply(step)
	}
	follow := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      step.Table,
		Measure:    step.Measure,
		Expression: &expr,
	}
	return c.engine.Apply(follow)
}

func (c *Controller) runDelete(ctx context.Context, stepOrdinal int, step *core.MutationStep, extra []core.TestQuery) (*core.HealResult, error) {
	res := &core.HealResult{}
	attempt := newAttempt(stepOrdinal, 1, "")
	res.Attempts = append(res.Attempts, attempt)

	if err := c.engine.Apply(step); err != nil {
		finishAttempt(attempt)
		return nil, err
	}
	attempt.Applied = true

	tests, err := c.runTests(ctx, extra)
	if err != nil {
		if rbErr := c.engine.Revert(step); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, err
	}
	attempt.Tests = tests
	finishAttempt(attempt)

	if allPassed(tests) {
		res.State = core.HealSucceeded
		return res, nil
	}

	// A failing delete is not correctable; put the measure back.
	if err := c.engine.Revert(step); err != nil {
		c.logger.Error("rollback failed",
			slog.String("measure", step.Measure),
			slog.String("error", err.Error()))
		res.State = core.HealRollbackFailed
		return res, err
	}
	res.State = core.HealRolledBack
	return res, nil
}

// runTests executes queries in order. A query that reports an evaluation
// error fails with that text; a query with no error and no rows fails as a
// blank result. Timed-out queries fail with the timeout text rather than
// ending the run. Zero rows is never treated as a transport failure.
func (c *Controller) runTests(ctx context.Context, queries []core.TestQuery) ([]core.TestResult, error) {
	results := make([]core.TestResult, 0, len(queries))
	for _, q := range queries {
		qr, err := c.evaluator.RunQuery(ctx, q.Query)
		if err != nil {
			if timedOut(err) {
				results = append(results, syntheticFail(q.Name, err.Error()))
				continue
			}
			return nil, fmt.Errorf("failed to run test %s: %w", q.Name, err)
		}
		tr := core.TestResult{Name: q.Name, DurationMS: qr.ExecutionMS, ExecutedAt: time.Now().UTC()}
		switch {
		case qr.EvalError != "":
			tr.Message = qr.EvalError
		case len(qr.Rows) == 0:
			tr.Message = "query returned no rows"
		default:
			tr.Passed = true
		}
		results = append(results, tr)
	}
	return results, nil
}

func newAttempt(stepOrdinal, ordinal int, expression string) *core.ExecutionAttempt {
	return &core.ExecutionAttempt{
		ID:          uuid.NewString(),
		StepOrdinal: stepOrdinal,
		Ordinal:     ordinal,
		Expression:  expression,
		StartedAt:   time.Now().UTC(),
	}
}

func finishAttempt(a *core.ExecutionAttempt) {
	done := time.Now().UTC()
	a.CompletedAt = &done
}

func syntheticFail(name, message string) core.TestResult {
	return core.TestResult{Name: name, Message: message, ExecutedAt: time.Now().UTC()}
}

func allPassed(tests []core.TestResult) bool {
	for _, t := range tests {
		if !t.Passed {
			return false
		}
	}
	return true
}

// timedOut reports whether err is a context deadline or network timeout.
// Timed-out service calls count as failed tests, not transport failures.
func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func firstColumn(t *tmdl.Table) string {
	if len(t.Columns) > 0 {
		return t.Columns[0].Name
	}
	return ""
}
