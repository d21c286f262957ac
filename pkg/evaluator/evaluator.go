// Package evaluator provides the expression evaluation contract for
// tabwright's mutation and healing engines.
//
// This package contains the public contract that all evaluators must
// implement. Concrete implementations are in pkg/evaluators/ subdirectories.
//
// Result types (SyntaxResult, QueryResult, Row) are defined in pkg/core.
package evaluator

import (
	"context"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// Evaluator defines the interface that all expression evaluators must
// implement. It provides syntax validation and query execution against a
// deployed semantic model.
type Evaluator interface {
	// Connect establishes a session with the evaluation backend.
	Connect(ctx context.Context, cfg core.EvaluatorConfig) error

	// Close terminates the session and releases resources.
	Close() error

	// ValidateSyntax checks a standalone expression for well-formedness
	// without executing it. An invalid expression is reported in the
	// result, not as an error; the error return is for transport failures.
	ValidateSyntax(ctx context.Context, expression string) (*core.SyntaxResult, error)

	// RunQuery executes an evaluation query against the model. Evaluation
	// failures are reported in QueryResult.EvalError; the error return is
	// for transport failures. Zero rows with an empty EvalError is a
	// well-formed outcome.
	RunQuery(ctx context.Context, query string) (*core.QueryResult, error)
}
