package core

import "fmt"

// TargetNotFoundError is returned when a mutation names a table or measure
// that does not exist in the parsed model.
type TargetNotFoundError struct {
	Kind string // "table" or "measure"
	Name string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Name)
}

// NameConflictError is returned when a create would shadow an existing
// measure. Measure names are unique within a table, not across the model.
type NameConflictError struct {
	Table   string
	Measure string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("measure %q already exists in table %q", e.Measure, e.Table)
}

// ApplyFailureError wraps the underlying cause of a failed mutation apply.
type ApplyFailureError struct {
	Action  StepAction
	Measure string
	Err     error
}

func (e *ApplyFailureError) Error() string {
	return fmt.Sprintf("failed to apply %s of measure %q: %v", e.Action, e.Measure, e.Err)
}

func (e *ApplyFailureError) Unwrap() error { return e.Err }

// ValidationFailureError is returned when an expression fails the local
// balance pre-check, remote syntax validation, or reference resolution.
type ValidationFailureError struct {
	Stage  string // "syntax" or "reference"
	Detail string
}

func (e *ValidationFailureError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Stage, e.Detail)
}

// DiagnosisInconclusiveError is returned when no failure pattern matched or
// the diagnoser refused to produce a fix.
type DiagnosisInconclusiveError struct {
	RootCause  string
	Confidence float64
}

func (e *DiagnosisInconclusiveError) Error() string {
	return fmt.Sprintf("diagnosis inconclusive: %s (confidence %.2f)", e.RootCause, e.Confidence)
}

// RollbackFailureError reports a failed restore of the original state after
// an exhausted or abandoned healing loop. It is fatal and never swallowed.
type RollbackFailureError struct {
	Action  StepAction
	Measure string
	Err     error
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback of %s for measure %q failed: %v", e.Action, e.Measure, e.Err)
}

func (e *RollbackFailureError) Unwrap() error { return e.Err }
