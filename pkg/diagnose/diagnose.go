// Package diagnose provides the failure diagnosis contract for tabwright's
// healing engine.
//
// This package contains the public contract that all diagnosers must
// implement. Concrete implementations are in pkg/diagnosers/ subdirectories.
package diagnose

import (
	"context"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// Failure describes one failed apply-and-test cycle handed to a diagnoser:
// the expression that was in effect and the tests that rejected it.
type Failure struct {
	Table      string
	Measure    string
	Expression string
	Tests      []core.TestResult
}

// Messages returns the failure text of every failed test, in order.
func (f Failure) Messages() []string {
	var out []string
	for _, t := range f.Tests {
		if !t.Passed && t.Message != "" {
			out = append(out, t.Message)
		}
	}
	return out
}

// Diagnoser turns a Failure into a DiagnosisRecord: a root cause, an optional
// corrected expression, and a confidence. A diagnoser that recognizes the
// failure but cannot or will not propose a fix returns a record with an empty
// CorrectedExpression and a low confidence. A diagnoser that does not
// recognize the failure at all returns *core.DiagnosisInconclusiveError.
type Diagnoser interface {
	// Configure applies settings before the first Diagnose call.
	Configure(cfg core.DiagnoserConfig) error

	// Diagnose analyzes a failure. The returned record's Confidence is
	// always within [0, 1].
	Diagnose(ctx context.Context, failure Failure) (*core.DiagnosisRecord, error)

	// Close releases resources.
	Close() error
}
