package core

import "time"

// StepAction identifies the kind of measure mutation a step performs.
type StepAction string

// Step action constants.
const (
	ActionCreate StepAction = "create"
	ActionUpdate StepAction = "update"
	ActionDelete StepAction = "delete"
)

// MutationStep is a single structured mutation against the semantic model.
// Optional fields are pointers: nil means "leave unchanged" for updates and
// "not provided" for creates.
type MutationStep struct {
	Action       StepAction
	Table        string
	Measure      string
	Expression   *string
	FormatString *string
	Description  *string

	// Rollback captures, filled in by the mutation engine when the step
	// is applied. PreviousExpression is set on update; Snapshot on update
	// and delete.
	PreviousExpression *string
	Snapshot           *MeasureSnapshot
}

// Annotation is a name/value property attached to a measure.
type Annotation struct {
	Name  string
	Value string
}

// MeasureSnapshot is a full capture of a measure taken before a destructive
// mutation, sufficient to recreate it (identity tag included) on rollback.
type MeasureSnapshot struct {
	Table        string
	Name         string
	Expression   string
	FormatString string
	Description  string
	IdentityTag  string
	Annotations  []Annotation

	// RawLines holds the measure's original block lines, terminators
	// included, so an in-place rollback can reproduce hand formatting the
	// canonical renderer would normalize away. Nil for measures that never
	// existed on disk.
	RawLines []string
}

// TestQuery is a named evaluation query run against the model after a mutation.
type TestQuery struct {
	Name  string
	Query string
}

// Row is a single query result row keyed by column name.
type Row map[string]any

// QueryResult is the outcome of one evaluation query. EvalError carries the
// evaluator's error text verbatim. An empty EvalError with zero rows is a
// well-formed result, not an evaluation failure.
type QueryResult struct {
	Rows        []Row
	ExecutionMS int64
	EvalError   string
}

// SyntaxResult is the outcome of a standalone expression syntax check.
type SyntaxResult struct {
	Valid   bool
	Message string
}

// TestResult records the outcome of a single test query.
type TestResult struct {
	Name       string
	Passed     bool
	Message    string
	DurationMS int64
	ExecutedAt time.Time
}

// Plan is an ordered set of mutation steps with optional extra test cases.
type Plan struct {
	Summary   string
	Steps     []MutationStep
	Risks     []string
	TestCases []TestQuery
}

// DiagnosisRecord is the outcome of a failure diagnosis: a root cause, an
// optional corrected expression (empty means the diagnoser refused to guess),
// and a confidence in [0, 1].
type DiagnosisRecord struct {
	RootCause           string
	CorrectedExpression string
	Confidence          float64
}

// ExecutionAttempt records one apply-and-test cycle inside the healing loop.
type ExecutionAttempt struct {
	ID          string
	StepOrdinal int
	Ordinal     int
	Expression  string
	Applied     bool
	Tests       []TestResult
	Diagnosis   *DiagnosisRecord
	StartedAt   time.Time
	CompletedAt *time.Time
}

// HealState is the terminal state of a self-healing execution.
type HealState string

// Heal state constants.
const (
	HealSucceeded      HealState = "succeeded"
	HealRolledBack     HealState = "rolled_back"
	HealRollbackFailed HealState = "rollback_failed"
)

// HealResult is the full record of a self-healing execution: the terminal
// state, every attempt made, and a unified diff of the touched document
// (empty when the document ended byte-identical to where it started).
type HealResult struct {
	State           HealState
	Attempts        []*ExecutionAttempt
	FinalExpression string
	GaveUpEarly     bool
	Diff            string
}

// Phase identifies a stage of the change workflow.
type Phase string

// Workflow phase constants, in execution order.
const (
	PhaseClarify  Phase = "clarify"
	PhasePlan     Phase = "plan"
	PhaseValidate Phase = "validate"
	PhaseTestPre  Phase = "test_pre"
	PhaseExecute  Phase = "execute"
	PhaseTestPost Phase = "test_post"
	PhaseVerify   Phase = "verify"
	PhaseComplete Phase = "complete"

	// Exit phases.
	PhaseAwaitingClarification Phase = "awaiting_clarification"
	PhaseFailed                Phase = "failed"
)

// PhaseStatus is the recorded outcome of a single phase.
type PhaseStatus string

// Phase status constants.
const (
	PhaseStatusPassed  PhaseStatus = "passed"
	PhaseStatusFailed  PhaseStatus = "failed"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// PhaseRecord is the audit record of one phase transition.
type PhaseRecord struct {
	Phase       Phase
	Status      PhaseStatus
	Detail      string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStatus is the overall status of a workflow run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning               RunStatus = "running"
	RunStatusCompleted             RunStatus = "completed"
	RunStatusFailed                RunStatus = "failed"
	RunStatusAwaitingClarification RunStatus = "awaiting_clarification"
)

// WorkflowRun is a persisted workflow execution session.
type WorkflowRun struct {
	ID          string
	RequestID   string
	Summary     string
	Phase       Phase
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ChangeRequest describes a requested model change. When Plan is non-nil it
// is consumed unmodified; otherwise the workflow's planner builds one.
// Clarifications carries answers when a run is re-submitted after an
// awaiting-clarification exit.
type ChangeRequest struct {
	ID             string
	Summary        string
	Clarifications map[string]string
	Plan           *Plan
}

// ClarifyResult is the outcome of the clarification check.
type ClarifyResult struct {
	NeedsClarification bool
	Questions          []string
}

// StepResult pairs a mutation step with its healing outcome.
type StepResult struct {
	Step MutationStep
	Heal *HealResult
}

// WorkflowResult is the complete outcome of a workflow run.
type WorkflowResult struct {
	RunID     string
	RequestID string
	Phase     Phase
	Status    RunStatus
	Phases    []*PhaseRecord
	Steps     []*StepResult
	PreTests  []TestResult
	PostTests []TestResult
	Questions []string
	Error     string
}

// EvaluatorConfig selects and configures the expression evaluator.
type EvaluatorConfig struct {
	Type       string `koanf:"type"`
	Endpoint   string `koanf:"endpoint"`
	TimeoutMS  int    `koanf:"timeout_ms"`
	MaxRetries int    `koanf:"max_retries"`
}

// DiagnoserConfig selects and configures the failure diagnoser.
type DiagnoserConfig struct {
	Type      string `koanf:"type"`
	Endpoint  string `koanf:"endpoint"`
	Model     string `koanf:"model"`
	APIKeyEnv string `koanf:"api_key_env"`
	TimeoutMS int    `koanf:"timeout_ms"`
}
