// Package mock provides a scriptable in-memory evaluator for tests and
// offline dry runs.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

// Evaluator implements evaluator.Evaluator entirely in memory. Behavior is
// scripted per instance: handler funcs take precedence, then substring rules,
// then a default that passes everything with a single row.
type Evaluator struct {
	// SyntaxFunc, when set, decides every ValidateSyntax call.
	SyntaxFunc func(expression string) *core.SyntaxResult

	// QueryFunc, when set, decides every RunQuery call.
	QueryFunc func(query string) *core.QueryResult

	logger *slog.Logger

	mu          sync.Mutex
	connected   bool
	syntaxRules []syntaxRule
	queryRules  []queryRule
	queries     []string
}

type syntaxRule struct {
	substr  string
	message string
}

type queryRule struct {
	substr string
	result core.QueryResult
}

// New creates a new mock evaluator instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{logger: logger}
}

// FailSyntaxContaining scripts ValidateSyntax to reject expressions that
// contain substr.
func (e *Evaluator) FailSyntaxContaining(substr, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syntaxRules = append(e.syntaxRules, syntaxRule{substr: substr, message: message})
}

// FailQueriesContaining scripts RunQuery to return an evaluation error for
// queries that contain substr.
func (e *Evaluator) FailQueriesContaining(substr, evalError string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryRules = append(e.queryRules, queryRule{substr: substr, result: core.QueryResult{EvalError: evalError}})
}

// EmptyQueriesContaining scripts RunQuery to return zero rows (and no
// evaluation error) for queries that contain substr.
func (e *Evaluator) EmptyQueriesContaining(substr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryRules = append(e.queryRules, queryRule{substr: substr})
}

// Queries returns every query executed so far, in order.
func (e *Evaluator) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// Connect marks the evaluator ready. The config is ignored.
func (e *Evaluator) Connect(_ context.Context, _ core.EvaluatorConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	return nil
}

// Close marks the evaluator disconnected.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

// ValidateSyntax checks the expression against the scripted rules.
func (e *Evaluator) ValidateSyntax(ctx context.Context, expression string) (*core.SyntaxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return nil, fmt.Errorf("evaluator not connected")
	}
	if e.SyntaxFunc != nil {
		return e.SyntaxFunc(expression), nil
	}
	for _, r := range e.syntaxRules {
		if strings.Contains(expression, r.substr) {
			return &core.SyntaxResult{Message: r.message}, nil
		}
	}
	return &core.SyntaxResult{Valid: true}, nil
}

// RunQuery records the query and answers it from the scripted rules.
func (e *Evaluator) RunQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return nil, fmt.Errorf("evaluator not connected")
	}
	e.queries = append(e.queries, query)
	if e.QueryFunc != nil {
		return e.QueryFunc(query), nil
	}
	for _, r := range e.queryRules {
		if strings.Contains(query, r.substr) {
			res := r.result
			return &res, nil
		}
	}
	return &core.QueryResult{
		Rows:        []core.Row{{"Value": 1.0}},
		ExecutionMS: 1,
	}, nil
}

// Ensure Evaluator implements evaluator.Evaluator interface
var _ evaluator.Evaluator = (*Evaluator)(nil)
