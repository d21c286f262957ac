package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tabwright-labs/tabwright/internal/mutation"
	"github.com/tabwright-labs/tabwright/internal/testutil"
	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
	"github.com/tabwright-labs/tabwright/pkg/diagnosers/heuristic"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
	"github.com/tabwright-labs/tabwright/pkg/evaluators/mock"
)

const salesSrc = "table Sales\n" +
	"\n" +
	"\tmeasure 'Total Sales' = SUM(Sales[Amount])\n" +
	"\n" +
	"\tmeasure Margin = 1\n" +
	"\n" +
	"\tcolumn Region\n" +
	"\t\tdataType: string\n" +
	"\n" +
	"\tcolumn Amount\n" +
	"\t\tdataType: decimal\n"

func strPtr(s string) *string { return &s }

// scriptDiagnoser returns canned records in order, then inconclusive.
type scriptDiagnoser struct {
	records  []*core.DiagnosisRecord
	calls    int
	failures []diagnose.Failure
}

func (d *scriptDiagnoser) Configure(core.DiagnoserConfig) error { return nil }
func (d *scriptDiagnoser) Close() error                         { return nil }

func (d *scriptDiagnoser) Diagnose(_ context.Context, f diagnose.Failure) (*core.DiagnosisRecord, error) {
	d.failures = append(d.failures, f)
	i := d.calls
	d.calls++
	if i < len(d.records) {
		return d.records[i], nil
	}
	return nil, &core.DiagnosisInconclusiveError{RootCause: "no known failure pattern"}
}

func newController(t *testing.T, diag diagnose.Diagnoser) (*Controller, *mock.Evaluator, *mutation.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.tmdl")
	if err := os.WriteFile(path, []byte(salesSrc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	engine := mutation.New(nil, dir, nil)
	if err := engine.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	eval := mock.New(nil)
	if err := eval.Connect(context.Background(), core.EvaluatorConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return New(testutil.NewTestLogger(t), engine, eval, diag), eval, engine, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return string(data)
}

func TestRun_CreateSucceedsFirstAttempt(t *testing.T) {
	c, eval, _, path := newController(t, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionCreate,
		Table:      "Sales",
		Measure:    "Order Count",
		Expression: strPtr("COUNTROWS(Sales)"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealSucceeded {
		t.Fatalf("expected succeeded, got %s", res.State)
	}
	if len(res.Attempts) != 1 || !res.Attempts[0].Applied {
		t.Fatalf("expected one applied attempt, got %+v", res.Attempts)
	}
	if len(res.Attempts[0].Tests) != 3 {
		t.Errorf("expected 3 battery tests, got %d", len(res.Attempts[0].Tests))
	}
	if res.FinalExpression != "COUNTROWS(Sales)" {
		t.Errorf("unexpected final expression %q", res.FinalExpression)
	}
	if !strings.Contains(res.Diff, "+\tmeasure 'Order Count' = COUNTROWS(Sales)") {
		t.Errorf("diff missing created measure:\n%s", res.Diff)
	}

	queries := eval.Queries()
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(queries))
	}
	if queries[0] != `EVALUATE ROW("Value", [Order Count])` {
		t.Errorf("unexpected first query %q", queries[0])
	}
	if !strings.Contains(readFile(t, path), "measure 'Order Count' = COUNTROWS(Sales)") {
		t.Error("created measure missing from file")
	}
}

func TestRun_UpdateHealsDivideByZero(t *testing.T) {
	c, eval, engine, path := newController(t, heuristic.New(nil))

	// Evaluation outcome follows the expression currently in the document.
	eval.QueryFunc = func(query string) *core.QueryResult {
		_, _, m, err := engine.FindMeasure("Sales", "Margin")
		if err != nil {
			return &core.QueryResult{EvalError: "measure missing"}
		}
		if strings.Contains(m.Expression, "/") && !strings.Contains(m.Expression, "DIVIDE") {
			return &core.QueryResult{EvalError: "divide by zero error during evaluation"}
		}
		return &core.QueryResult{Rows: []core.Row{{"Value": 1.0}}, ExecutionMS: 1}
	}

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("[Profit] / [Revenue]"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealSucceeded {
		t.Fatalf("expected succeeded, got %s (attempts %d)", res.State, len(res.Attempts))
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}

	first := res.Attempts[0]
	if first.Diagnosis == nil || first.Diagnosis.CorrectedExpression != "DIVIDE([Profit], [Revenue], 0)" {
		t.Fatalf("unexpected diagnosis on first attempt: %+v", first.Diagnosis)
	}
	if res.Attempts[1].Expression != "DIVIDE([Profit], [Revenue], 0)" {
		t.Errorf("second attempt used %q", res.Attempts[1].Expression)
	}
	if res.FinalExpression != "DIVIDE([Profit], [Revenue], 0)" {
		t.Errorf("unexpected final expression %q", res.FinalExpression)
	}
	if step.PreviousExpression == nil || *step.PreviousExpression != "1" {
		t.Errorf("previous expression not captured: %v", step.PreviousExpression)
	}

	got := readFile(t, path)
	if !strings.Contains(got, "\tmeasure Margin = DIVIDE([Profit], [Revenue], 0)\n") {
		t.Errorf("healed expression missing from file:\n%s", got)
	}
	if !strings.Contains(res.Diff, "-\tmeasure Margin = 1") ||
		!strings.Contains(res.Diff, "+\tmeasure Margin = DIVIDE([Profit], [Revenue], 0)") {
		t.Errorf("diff does not show the net change:\n%s", res.Diff)
	}
}

func TestRun_InconclusiveDiagnosisRollsBack(t *testing.T) {
	c, eval, engine, path := newController(t, heuristic.New(nil))

	eval.QueryFunc = func(query string) *core.QueryResult {
		_, _, m, err := engine.FindMeasure("Sales", "Margin")
		if err == nil && strings.Contains(m.Expression, "MYSTERY") {
			return &core.QueryResult{EvalError: "unexpected internal failure 0x1f"}
		}
		return &core.QueryResult{Rows: []core.Row{{"Value": 1.0}}, ExecutionMS: 1}
	}

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("MYSTERY([X])"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if !res.GaveUpEarly {
		t.Error("expected GaveUpEarly after inconclusive diagnosis on attempt 1")
	}
	if len(res.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(res.Attempts))
	}
	if res.FinalExpression != "1" {
		t.Errorf("expected original expression restored, got %q", res.FinalExpression)
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored byte for byte:\n%s", got)
	}
	if res.Diff != "" {
		t.Errorf("expected empty diff after rollback, got:\n%s", res.Diff)
	}
}

func TestRun_ExhaustsAttemptsThenRollsBack(t *testing.T) {
	diag := &scriptDiagnoser{records: []*core.DiagnosisRecord{
		{RootCause: "broken", CorrectedExpression: "[A] + 1", Confidence: 0.9},
		{RootCause: "broken", CorrectedExpression: "[A] + 2", Confidence: 0.9},
		{RootCause: "broken", CorrectedExpression: "[A] + 3", Confidence: 0.9},
	}}
	c, eval, _, path := newController(t, diag)

	eval.FailQueriesContaining("[Margin]", "still broken")

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("[A] + 0"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if res.GaveUpEarly {
		t.Error("exhausting all attempts is not an early give-up")
	}
	if len(res.Attempts) != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, len(res.Attempts))
	}
	if res.Attempts[1].Expression != "[A] + 1" || res.Attempts[2].Expression != "[A] + 2" {
		t.Errorf("corrections not threaded through attempts: %q, %q",
			res.Attempts[1].Expression, res.Attempts[2].Expression)
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored:\n%s", got)
	}
}

func TestRun_GivesUpWithoutCorrection(t *testing.T) {
	diag := &scriptDiagnoser{records: []*core.DiagnosisRecord{
		{RootCause: `referenced column "Margin" does not exist`, Confidence: 0.2},
	}}
	c, eval, _, path := newController(t, diag)
	eval.FailQueriesContaining("[Margin]", "cannot find column 'Margin'")

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("SUM(Sales[Margin])"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if !res.GaveUpEarly {
		t.Error("expected GaveUpEarly when the diagnosis offers no correction")
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(res.Attempts))
	}
	if res.Attempts[0].Diagnosis == nil {
		t.Error("refusing diagnosis should still be recorded on the attempt")
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored:\n%s", got)
	}
}

func TestRun_LowConfidenceFixTestedOnce(t *testing.T) {
	diag := &scriptDiagnoser{records: []*core.DiagnosisRecord{
		{RootCause: "guess", CorrectedExpression: "[A] + 1", Confidence: 0.3},
		{RootCause: "second guess", CorrectedExpression: "[A] + 2", Confidence: 0.9},
	}}
	c, eval, _, path := newController(t, diag)
	eval.FailQueriesContaining("[Margin]", "still broken")

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("[A] + 0"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if !res.GaveUpEarly {
		t.Error("expected GaveUpEarly once the low-confidence fix failed")
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected the fix to get exactly one attempt, got %d", len(res.Attempts))
	}
	if res.Attempts[1].Expression != "[A] + 1" {
		t.Errorf("attempt 2 used %q, want the low-confidence fix", res.Attempts[1].Expression)
	}
	if diag.calls != 1 {
		t.Errorf("expected no diagnosis after a failed low-confidence fix, got %d calls", diag.calls)
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored:\n%s", got)
	}
}

func TestRun_UnbalancedExpressionNeverApplies(t *testing.T) {
	c, eval, _, path := newController(t, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("SUM(Sales[Amount]"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	attempt := res.Attempts[0]
	if attempt.Applied {
		t.Error("unbalanced expression must not be applied")
	}
	if len(attempt.Tests) != 1 || attempt.Tests[0].Name != TestSyntax {
		t.Fatalf("expected a single synthetic syntax test, got %+v", attempt.Tests)
	}
	if len(eval.Queries()) != 0 {
		t.Errorf("no queries should run, got %v", eval.Queries())
	}
	if got := readFile(t, path); got != salesSrc {
		t.Error("document changed despite failed pre-check")
	}
	if res.Diff != "" {
		t.Errorf("expected empty diff, got:\n%s", res.Diff)
	}
}

func TestRun_ServiceSyntaxRejection(t *testing.T) {
	c, eval, _, _ := newController(t, heuristic.New(nil))
	eval.FailSyntaxContaining("BOGUS", "unknown function BOGUS")

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("BOGUS([A])"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	attempt := res.Attempts[0]
	if attempt.Applied {
		t.Error("rejected expression must not be applied")
	}
	if len(attempt.Tests) != 1 || attempt.Tests[0].Message != "unknown function BOGUS" {
		t.Fatalf("expected service rejection message, got %+v", attempt.Tests)
	}
	if len(eval.Queries()) != 0 {
		t.Errorf("no queries should run, got %v", eval.Queries())
	}
}

func TestRun_DeleteSucceeds(t *testing.T) {
	c, _, _, path := newController(t, heuristic.New(nil))

	step := &core.MutationStep{Action: core.ActionDelete, Table: "Sales", Measure: "Margin"}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealSucceeded {
		t.Fatalf("expected succeeded, got %s", res.State)
	}
	if strings.Contains(readFile(t, path), "measure Margin") {
		t.Error("deleted measure still in file")
	}
	if !strings.Contains(res.Diff, "-\tmeasure Margin = 1") {
		t.Errorf("diff missing deletion:\n%s", res.Diff)
	}
}

func TestRun_DeleteRollsBackOnFailedCheck(t *testing.T) {
	c, eval, _, path := newController(t, heuristic.New(nil))
	eval.FailQueriesContaining("[Total Sales]", "dependent measure broken")

	step := &core.MutationStep{Action: core.ActionDelete, Table: "Sales", Measure: "Margin"}
	extra := []core.TestQuery{{Name: "dependents-still-evaluate", Query: `EVALUATE ROW("Value", [Total Sales])`}}

	res, err := c.Run(context.Background(), 1, step, extra)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored after delete rollback:\n%s", got)
	}
	if res.Diff != "" {
		t.Errorf("expected empty diff, got:\n%s", res.Diff)
	}
}

func TestRun_CreateNameConflict(t *testing.T) {
	c, _, _, _ := newController(t, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionCreate,
		Table:      "Sales",
		Measure:    "Total Sales",
		Expression: strPtr("1"),
	}
	_, err := c.Run(context.Background(), 1, step, nil)

	var conflict *core.NameConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected NameConflictError, got %v", err)
	}
}

func TestRun_TargetNotFound(t *testing.T) {
	c, _, _, _ := newController(t, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Ghost",
		Expression: strPtr("1"),
	}
	_, err := c.Run(context.Background(), 1, step, nil)

	var notFound *core.TargetNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TargetNotFoundError, got %v", err)
	}
}

// brokenEvaluator fails every query at the transport level.
type brokenEvaluator struct {
	*mock.Evaluator
}

func (b *brokenEvaluator) RunQuery(context.Context, string) (*core.QueryResult, error) {
	return nil, fmt.Errorf("connection reset")
}

func TestRun_TransportFailureRestoresDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.tmdl")
	if err := os.WriteFile(path, []byte(salesSrc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	engine := mutation.New(nil, dir, nil)
	if err := engine.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	inner := mock.New(nil)
	if err := inner.Connect(context.Background(), core.EvaluatorConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	var eval evaluator.Evaluator = &brokenEvaluator{Evaluator: inner}
	c := New(nil, engine, eval, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("[Profit] / [Revenue]"),
	}
	_, err := c.Run(context.Background(), 1, step, nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected transport error, got %v", err)
	}

	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored after transport failure:\n%s", got)
	}
}

// timeoutEvaluator times out every query at the transport level.
type timeoutEvaluator struct {
	*mock.Evaluator
}

func (b *timeoutEvaluator) RunQuery(context.Context, string) (*core.QueryResult, error) {
	return nil, fmt.Errorf("run query: %w", context.DeadlineExceeded)
}

func TestRun_QueryTimeoutRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.tmdl")
	if err := os.WriteFile(path, []byte(salesSrc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	engine := mutation.New(nil, dir, nil)
	if err := engine.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	inner := mock.New(nil)
	if err := inner.Connect(context.Background(), core.EvaluatorConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c := New(nil, engine, &timeoutEvaluator{Evaluator: inner}, heuristic.New(nil))

	step := &core.MutationStep{
		Action:     core.ActionUpdate,
		Table:      "Sales",
		Measure:    "Margin",
		Expression: strPtr("[A] + 0"),
	}
	res, err := c.Run(context.Background(), 1, step, nil)
	if err != nil {
		t.Fatalf("timed-out queries must not surface as transport errors: %v", err)
	}

	if res.State != core.HealRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}
	if !res.GaveUpEarly {
		t.Error("expected GaveUpEarly after timeouts defeat diagnosis")
	}
	for _, tr := range res.Attempts[0].Tests {
		if tr.Passed {
			t.Errorf("timed-out test %s marked passed", tr.Name)
		}
		if !strings.Contains(tr.Message, "deadline exceeded") {
			t.Errorf("test %s missing timeout text: %q", tr.Name, tr.Message)
		}
	}
	if got := readFile(t, path); got != salesSrc {
		t.Errorf("document not restored after timeouts:\n%s", got)
	}
}
