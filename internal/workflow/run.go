package workflow

// run.go - phase orchestration for workflow runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabwright-labs/tabwright/internal/heal"
	"github.com/tabwright-labs/tabwright/pkg/core"
)

// Run executes a change request through every phase. The result is non-nil
// whenever a run was started; the error is non-nil when the run failed, so
// callers get the phase trail either way.
func (c *Controller) Run(ctx context.Context, req *core.ChangeRequest) (*core.WorkflowResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	c.logger.Info("starting workflow run",
		slog.String("request_id", req.ID),
		slog.String("summary", req.Summary))

	run := &core.WorkflowRun{RequestID: req.ID, Summary: req.Summary}
	if c.store != nil {
		if err := c.store.CreateRun(run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	} else {
		run.ID = uuid.NewString()
	}

	result := &core.WorkflowResult{RunID: run.ID, RequestID: req.ID, Status: core.RunStatusRunning}

	// Clarify
	rec := c.beginPhase(run.ID, core.PhaseClarify)
	clar, err := c.clarifier.Clarify(ctx, req)
	if err != nil {
		c.endPhase(result, rec, core.PhaseStatusFailed, err.Error())
		return c.fail(result, fmt.Errorf("clarification failed: %w", err))
	}
	if clar.NeedsClarification {
		c.endPhase(result, rec, core.PhaseStatusPassed,
			fmt.Sprintf("%d question(s) for the requester", len(clar.Questions)))
		result.Questions = clar.Questions
		c.logger.Info("workflow awaiting clarification",
			slog.String("run_id", run.ID),
			slog.Int("questions", len(clar.Questions)))
		return c.terminate(result, core.RunStatusAwaitingClarification, core.PhaseAwaitingClarification, ""), nil
	}
	c.endPhase(result, rec, core.PhaseStatusPassed, "request is actionable")

	// Plan
	rec = c.beginPhase(run.ID, core.PhasePlan)
	plan := req.Plan
	if plan == nil {
		plan, err = c.planner.BuildPlan(ctx, req)
		if err != nil {
			c.endPhase(result, rec, core.PhaseStatusFailed, err.Error())
			return c.fail(result, fmt.Errorf("planning failed: %w", err))
		}
	}
	if plan == nil || len(plan.Steps) == 0 {
		c.endPhase(result, rec, core.PhaseStatusFailed, "plan has no steps")
		return c.fail(result, errors.New("plan has no steps"))
	}
	c.endPhase(result, rec, core.PhaseStatusPassed,
		fmt.Sprintf("%d step(s), %d test case(s)", len(plan.Steps), len(plan.TestCases)))

	// Validate
	rec = c.beginPhase(run.ID, core.PhaseValidate)
	if err := c.validatePlan(ctx, plan); err != nil {
		c.endPhase(result, rec, core.PhaseStatusFailed, err.Error())
		return c.fail(result, err)
	}
	c.endPhase(result, rec, core.PhaseStatusPassed, "all steps statically valid")

	// TestPre: baseline outcomes are recorded but never fail the run.
	rec = c.beginPhase(run.ID, core.PhaseTestPre)
	pre, err := c.runPhaseTests(ctx, run.ID, core.PhaseTestPre, plan)
	if err != nil {
		c.endPhase(result, rec, core.PhaseStatusFailed, err.Error())
		return c.fail(result, err)
	}
	result.PreTests = pre
	if len(pre) == 0 {
		c.endPhase(result, rec, core.PhaseStatusSkipped, "no test cases")
	} else {
		c.endPhase(result, rec, core.PhaseStatusPassed, summarize(pre)+" (baseline)")
	}

	// Execute
	rec = c.beginPhase(run.ID, core.PhaseExecute)
	committed, execErr := c.executeSteps(ctx, run.ID, result, plan)
	if execErr != nil {
		if rbErr := c.reverseRollback(committed); rbErr != nil {
			execErr = errors.Join(execErr, rbErr)
		}
		c.endPhase(result, rec, core.PhaseStatusFailed, execErr.Error())
		return c.fail(result, execErr)
	}
	c.endPhase(result, rec, core.PhaseStatusPassed,
		fmt.Sprintf("%d step(s) committed", len(committed)))

	// TestPost
	rec = c.beginPhase(run.ID, core.PhaseTestPost)
	post, err := c.runPhaseTests(ctx, run.ID, core.PhaseTestPost, plan)
	if err != nil {
		c.endPhase(result, rec, core.PhaseStatusFailed, err.Error())
		return c.fail(result, err)
	}
	result.PostTests = post
	if len(post) == 0 {
		c.endPhase(result, rec, core.PhaseStatusSkipped, "no test cases")
	} else {
		c.endPhase(result, rec, core.PhaseStatusPassed, summarize(post))
	}

	// Verify: committed steps stay in place even when verification fails;
	// only the execute phase rolls back.
	rec = c.beginPhase(run.ID, core.PhaseVerify)
	if failed := failedNames(post); len(failed) > 0 {
		c.endPhase(result, rec, core.PhaseStatusFailed, "failing: "+strings.Join(failed, ", "))
		return c.fail(result, fmt.Errorf("verification failed: %d post-mutation test(s) failing", len(failed)))
	}
	if len(post) == 0 {
		c.endPhase(result, rec, core.PhaseStatusPassed, "no post-mutation tests to verify")
	} else {
		c.endPhase(result, rec, core.PhaseStatusPassed,
			fmt.Sprintf("all %d post-mutation test(s) passed", len(post)))
	}

	// Complete
	rec = c.beginPhase(run.ID, core.PhaseComplete)
	c.endPhase(result, rec, core.PhaseStatusPassed, "")
	c.logger.Info("workflow run completed", slog.String("run_id", run.ID))
	return c.terminate(result, core.RunStatusCompleted, core.PhaseComplete, ""), nil
}

// executeSteps heals each plan step in order and returns the steps that
// committed. The returned error reports the first step that did not commit;
// the caller owns the reverse rollback of whatever committed before it.
func (c *Controller) executeSteps(ctx context.Context, runID string, result *core.WorkflowResult, plan *core.Plan) ([]*core.MutationStep, error) {
	var committed []*core.MutationStep
	for i := range plan.Steps {
		step := &plan.Steps[i]
		c.logger.Info("executing step",
			slog.Int("ordinal", i+1),
			slog.String("action", string(step.Action)),
			slog.String("measure", step.Measure))

		healRes, healErr := c.healer.Run(ctx, i+1, step, plan.TestCases)
		if healRes != nil {
			result.Steps = append(result.Steps, &core.StepResult{Step: *step, Heal: healRes})
			c.recordAttempts(runID, healRes)
		}
		if healErr != nil {
			return committed, fmt.Errorf("step %d (%s %s): %w", i+1, step.Action, step.Measure, healErr)
		}
		if healRes.State == core.HealSucceeded {
			committed = append(committed, step)
			continue
		}

		msg := fmt.Sprintf("step %d (%s %s) could not be healed and was rolled back", i+1, step.Action, step.Measure)
		if healRes.GaveUpEarly {
			msg += " (gave up early)"
		}
		return committed, errors.New(msg)
	}
	return committed, nil
}

// reverseRollback reverts committed steps newest first, continuing past
// individual failures so as much of the model as possible is restored.
func (c *Controller) reverseRollback(committed []*core.MutationStep) error {
	var errs []error
	for i := len(committed) - 1; i >= 0; i-- {
		step := committed[i]
		c.logger.Info("rolling back committed step",
			slog.String("action", string(step.Action)),
			slog.String("measure", step.Measure))
		if err := c.engine.Revert(step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runPhaseTests executes the plan's test cases plus the battery for the
// step targets relevant to the phase, recording every outcome.
func (c *Controller) runPhaseTests(ctx context.Context, runID string, phase core.Phase, plan *core.Plan) ([]core.TestResult, error) {
	queries := append([]core.TestQuery{}, plan.TestCases...)
	queries = append(queries, c.phaseBattery(plan, phase)...)
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([]core.TestResult, 0, len(queries))
	for _, q := range queries {
		qr, err := c.evaluator.RunQuery(ctx, q.Query)
		if err != nil {
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
		if c.store != nil {
			_ = c.store.RecordTestResult(runID, phase, tr)
		}
	}
	return results, nil
}

// phaseBattery builds battery queries for the measures a phase can observe:
// update and delete targets exist before execution, create and update
// targets after.
func (c *Controller) phaseBattery(plan *core.Plan, phase core.Phase) []core.TestQuery {
	var queries []core.TestQuery
	seen := make(map[string]bool)
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if phase == core.PhaseTestPre && step.Action == core.ActionCreate {
			continue
		}
		if phase == core.PhaseTestPost && step.Action == core.ActionDelete {
			continue
		}
		// The same measure name may exist in more than one table.
		key := step.Table + "|" + step.Measure
		if seen[key] {
			continue
		}

		_, t, _, err := c.engine.FindMeasure(step.Table, step.Measure)
		if err != nil {
			continue
		}
		seen[key] = true

		column := ""
		if len(t.Columns) > 0 {
			column = t.Columns[0].Name
		}
		for _, q := range heal.DefaultBattery(t.Name, step.Measure, column) {
			queries = append(queries, core.TestQuery{Name: step.Measure + ": " + q.Name, Query: q.Query})
		}
	}
	return queries
}

// recordAttempts persists the attempt history of one healed step.
func (c *Controller) recordAttempts(runID string, res *core.HealResult) {
	if c.store == nil {
		return
	}
	for _, att := range res.Attempts {
		if err := c.store.RecordAttempt(runID, att); err != nil {
			c.logger.Warn("failed to record attempt",
				slog.String("run_id", runID),
				slog.String("error", err.Error()))
		}
	}
}

// beginPhase marks the run as entering a phase.
func (c *Controller) beginPhase(runID string, phase core.Phase) *core.PhaseRecord {
	c.logger.Debug("entering phase",
		slog.String("run_id", runID),
		slog.String("phase", string(phase)))
	if c.store != nil {
		_ = c.store.UpdateRunPhase(runID, phase)
	}
	return &core.PhaseRecord{Phase: phase, StartedAt: time.Now().UTC()}
}

// endPhase finalizes a phase record and persists it to the store.
func (c *Controller) endPhase(result *core.WorkflowResult, rec *core.PhaseRecord, status core.PhaseStatus, detail string) {
	now := time.Now().UTC()
	rec.Status = status
	rec.Detail = detail
	rec.CompletedAt = &now
	result.Phases = append(result.Phases, rec)
	if c.store != nil {
		_ = c.store.RecordPhase(result.RunID, rec)
	}
	c.logger.Debug("phase finished",
		slog.String("phase", string(rec.Phase)),
		slog.String("status", string(status)),
		slog.String("detail", detail))
}

// fail closes the run as failed and returns the causing error.
func (c *Controller) fail(result *core.WorkflowResult, err error) (*core.WorkflowResult, error) {
	result.Error = err.Error()
	c.terminate(result, core.RunStatusFailed, core.PhaseFailed, err.Error())
	c.logger.Error("workflow run failed",
		slog.String("run_id", result.RunID),
		slog.String("error", err.Error()))
	return result, err
}

// terminate records the terminal phase and closes out the persisted run.
func (c *Controller) terminate(result *core.WorkflowResult, status core.RunStatus, phase core.Phase, errMsg string) *core.WorkflowResult {
	result.Status = status
	result.Phase = phase
	if c.store != nil {
		_ = c.store.UpdateRunPhase(result.RunID, phase)
		_ = c.store.CompleteRun(result.RunID, status, errMsg)
	}
	return result
}

// summarize renders a pass tally for a phase detail string.
func summarize(results []core.TestResult) string {
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d passed", passed, len(results))
}

// failedNames lists the names of failing results.
func failedNames(results []core.TestResult) []string {
	var names []string
	for _, r := range results {
		if !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}
