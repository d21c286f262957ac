package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

const maxExpressionWidth = 60

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderPhases prints the phase trail of a run.
func renderPhases(w io.Writer, phases []*core.PhaseRecord) {
	if len(phases) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Phase", "Status", "Detail", "Duration"})
	for _, p := range phases {
		t.AppendRow(table.Row{p.Phase, p.Status, p.Detail, formatSpan(p.StartedAt, p.CompletedAt)})
	}
	t.Render()
}

// renderTests prints a titled test result table. Nothing is printed when
// there are no results.
func renderTests(w io.Writer, title string, results []core.TestResult) {
	if len(results) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%s:\n", title)
	t := newTable(w)
	t.AppendHeader(table.Row{"Test", "Result", "Message", "ms"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Name, passLabel(r.Passed), r.Message, r.DurationMS})
	}
	t.Render()
}

// renderSteps prints the per-step outcome of an executed plan, including the
// healing attempts and the final diff of each step.
func renderSteps(w io.Writer, steps []*core.StepResult) {
	for i, sr := range steps {
		_, _ = fmt.Fprintf(w, "\nStep %d: %s %s", i+1, sr.Step.Action, quoteMeasure(&sr.Step))
		if sr.Heal == nil {
			_, _ = fmt.Fprintln(w)
			continue
		}
		_, _ = fmt.Fprintf(w, " (%s)\n", sr.Heal.State)
		renderAttempts(w, sr.Heal.Attempts)
		if sr.Heal.Diff != "" {
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, strings.TrimRight(sr.Heal.Diff, "\n"))
		}
	}
}

func renderAttempts(w io.Writer, attempts []*core.ExecutionAttempt) {
	if len(attempts) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Expression", "Applied", "Tests", "Diagnosis"})
	for _, a := range attempts {
		t.AppendRow(table.Row{
			a.Ordinal,
			truncate(flatten(a.Expression), maxExpressionWidth),
			yesNo(a.Applied),
			testSummary(a.Tests),
			diagnosisLabel(a.Diagnosis),
		})
	}
	t.Render()
}

func quoteMeasure(step *core.MutationStep) string {
	if step.Table != "" {
		return fmt.Sprintf("'%s'[%s]", step.Table, step.Measure)
	}
	return fmt.Sprintf("[%s]", step.Measure)
}

func passLabel(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func testSummary(results []core.TestResult) string {
	if len(results) == 0 {
		return "-"
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d passed", passed, len(results))
}

func diagnosisLabel(d *core.DiagnosisRecord) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%.2f)", d.RootCause, d.Confidence)
}

func formatSpan(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

// flatten collapses a multi-line expression to one line for table cells.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
