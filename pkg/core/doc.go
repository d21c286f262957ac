// Package core defines the shared language of the tabwright system.
//
// This package contains:
//   - Domain entities (MutationStep, Plan, ExecutionAttempt, WorkflowRun, etc.)
//   - Service interfaces (Store)
//   - Configuration types (EvaluatorConfig, DiagnoserConfig)
//   - The error taxonomy for mutation and healing failures
//
// The Golden Rule: pkg/core imports ONLY the stdlib.
// All other packages depend on core, not the reverse.
package core
