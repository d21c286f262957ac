package heuristic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
)

func failureWith(expression string, messages ...string) diagnose.Failure {
	f := diagnose.Failure{
		Table:      "Sales",
		Measure:    "Margin",
		Expression: expression,
	}
	for _, msg := range messages {
		f.Tests = append(f.Tests, core.TestResult{
			Name:    "returns-a-value",
			Passed:  false,
			Message: msg,
		})
	}
	return f
}

func TestDiagnose_DivideByZero(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("SUM(Sales[Profit]) / SUM(Sales[Revenue])", "Divide by zero error during evaluation"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "DIVIDE(SUM(Sales[Profit]), SUM(Sales[Revenue]), 0)" {
		t.Errorf("unexpected correction: %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceDivideFix {
		t.Errorf("expected confidence %v, got %v", ConfidenceDivideFix, rec.Confidence)
	}
	if !strings.Contains(rec.RootCause, "division by zero") {
		t.Errorf("unexpected root cause: %q", rec.RootCause)
	}
}

func TestDiagnose_DivideByZero_BareDivide(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("DIVIDE([Profit], [Revenue])", "division by zero"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "DIVIDE([Profit], [Revenue], 0)" {
		t.Errorf("unexpected correction: %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceDivideFix {
		t.Errorf("expected confidence %v, got %v", ConfidenceDivideFix, rec.Confidence)
	}
}

func TestDiagnose_DivideByZero_SlashZeroPhrasing(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("[Profit] / [Revenue]", "evaluation error: [Profit] / 0"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "DIVIDE([Profit], [Revenue], 0)" {
		t.Errorf("unexpected correction: %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceDivideFix {
		t.Errorf("expected confidence %v, got %v", ConfidenceDivideFix, rec.Confidence)
	}
}

func TestDiagnose_DivideByZero_AmbiguousRefused(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("[A] / [B] / [C]", "divide by zero"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "" {
		t.Errorf("expected refusal, got correction %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceRefusal {
		t.Errorf("expected confidence %v, got %v", ConfidenceRefusal, rec.Confidence)
	}
}

func TestDiagnose_BlankResult(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("SUM(Sales[Amount])", "query returned no rows"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "COALESCE(SUM(Sales[Amount]), 0)" {
		t.Errorf("unexpected correction: %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceBlankFix {
		t.Errorf("expected confidence %v, got %v", ConfidenceBlankFix, rec.Confidence)
	}
}

func TestDiagnose_NullResult(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("SUM(Sales[Amount])", "measure returned NULL for every row"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "COALESCE(SUM(Sales[Amount]), 0)" {
		t.Errorf("unexpected correction: %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceBlankFix {
		t.Errorf("expected confidence %v, got %v", ConfidenceBlankFix, rec.Confidence)
	}
}

func TestDiagnose_BlankResult_VarBlockRefused(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("VAR x = SUM(Sales[Amount])\nRETURN x", "result is blank"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "" {
		t.Errorf("expected refusal, got correction %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceRefusal {
		t.Errorf("expected confidence %v, got %v", ConfidenceRefusal, rec.Confidence)
	}
}

func TestDiagnose_BlankResult_AlreadyCoalescedRefused(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("COALESCE(SUM(Sales[Amount]), 0)", "result is blank"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "" {
		t.Errorf("expected refusal, got correction %q", rec.CorrectedExpression)
	}
}

func TestDiagnose_ColumnNotFound(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("SUM(Sales[Margin])", "cannot find column 'Margin' in table"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "" {
		t.Errorf("expected refusal, got correction %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceRefusal {
		t.Errorf("expected confidence %v, got %v", ConfidenceRefusal, rec.Confidence)
	}
	if !strings.Contains(rec.RootCause, `"Margin"`) {
		t.Errorf("expected root cause to name the column, got %q", rec.RootCause)
	}
}

func TestDiagnose_CircularDependency(t *testing.T) {
	d := New(nil)
	rec, err := d.Diagnose(context.Background(),
		failureWith("[A] + [B]", "circular dependency detected involving measure [A]"))
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if rec.CorrectedExpression != "" {
		t.Errorf("expected refusal, got correction %q", rec.CorrectedExpression)
	}
	if rec.Confidence != ConfidenceCircular {
		t.Errorf("expected confidence %v, got %v", ConfidenceCircular, rec.Confidence)
	}
}

func TestDiagnose_Inconclusive(t *testing.T) {
	d := New(nil)
	_, err := d.Diagnose(context.Background(),
		failureWith("[A]", "unexpected internal failure 0x1f"))
	var inconclusive *core.DiagnosisInconclusiveError
	if !errors.As(err, &inconclusive) {
		t.Fatalf("expected DiagnosisInconclusiveError, got %v", err)
	}
}

func TestDiagnose_IgnoresPassedTests(t *testing.T) {
	d := New(nil)
	f := diagnose.Failure{
		Table:      "Sales",
		Measure:    "Margin",
		Expression: "[A]",
		Tests: []core.TestResult{
			{Name: "grouped-context", Passed: true, Message: "divide by zero"},
			{Name: "returns-a-value", Passed: false, Message: "strange failure"},
		},
	}
	_, err := d.Diagnose(context.Background(), f)
	var inconclusive *core.DiagnosisInconclusiveError
	if !errors.As(err, &inconclusive) {
		t.Fatalf("expected DiagnosisInconclusiveError, got %v", err)
	}
}

func TestRewriteDivision(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
		ok   bool
	}{
		{
			name: "simple division",
			expr: "[Profit] / [Revenue]",
			want: "DIVIDE([Profit], [Revenue], 0)",
			ok:   true,
		},
		{
			name: "division with nested calls",
			expr: "SUM(Sales[Profit]) / COUNTROWS(Sales)",
			want: "DIVIDE(SUM(Sales[Profit]), COUNTROWS(Sales), 0)",
			ok:   true,
		},
		{
			name: "slash inside string literal ignored",
			expr: `FORMAT([Date], "yyyy/mm") & [A] / [B]`,
			want: `DIVIDE(FORMAT([Date], "yyyy/mm") & [A], [B], 0)`,
			ok:   true,
		},
		{
			name: "slash inside nested parens ignored",
			expr: "DIVIDE([A] / 2, [B])",
			want: "DIVIDE([A] / 2, [B], 0)",
			ok:   true,
		},
		{
			name: "slash inside comment ignored",
			expr: "DIVIDE([A], [B]) // per item a/b",
			want: "",
			ok:   false,
		},
		{
			name: "multiple divisions refused",
			expr: "[A] / [B] / [C]",
			want: "",
			ok:   false,
		},
		{
			name: "three argument divide unchanged",
			expr: "DIVIDE([A], [B], 1)",
			want: "",
			ok:   false,
		},
		{
			name: "divide followed by more expression",
			expr: "DIVIDE([A], [B]) + 1",
			want: "",
			ok:   false,
		},
		{
			name: "no division at all",
			expr: "SUM(Sales[Amount])",
			want: "",
			ok:   false,
		},
		{
			name: "missing numerator",
			expr: "/ [B]",
			want: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rewriteDivision(tt.expr)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v (result %q)", tt.ok, ok, got)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDiagnoser_Registered(t *testing.T) {
	d, err := diagnose.NewDiagnoser(core.DiagnoserConfig{Type: "heuristic"}, nil)
	if err != nil {
		t.Fatalf("NewDiagnoser failed: %v", err)
	}
	if _, ok := d.(*Diagnoser); !ok {
		t.Fatalf("expected *heuristic.Diagnoser, got %T", d)
	}
}
