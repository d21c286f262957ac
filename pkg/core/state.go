package core

// Store defines the interface for workflow audit persistence.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	// Run operations
	CreateRun(run *WorkflowRun) error
	GetRun(id string) (*WorkflowRun, error)
	ListRuns(limit int) ([]*WorkflowRun, error)
	UpdateRunPhase(id string, phase Phase) error
	CompleteRun(id string, status RunStatus, errMsg string) error

	// Phase records
	RecordPhase(runID string, rec *PhaseRecord) error
	ListPhases(runID string) ([]*PhaseRecord, error)

	// Healing attempts (attempt plus its test results, atomically)
	RecordAttempt(runID string, att *ExecutionAttempt) error
	ListAttempts(runID string) ([]*ExecutionAttempt, error)

	// Run-level test results (pre- and post-mutation batteries)
	RecordTestResult(runID string, phase Phase, result TestResult) error
	ListTestResults(runID string, phase Phase) ([]TestResult, error)
}
