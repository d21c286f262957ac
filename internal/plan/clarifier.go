package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/tabwright-labs/tabwright/internal/workflow"
	"github.com/tabwright-labs/tabwright/pkg/core"
)

const defaultMinSummaryLen = 10

// TableLister exposes the table names of the model under change.
type TableLister interface {
	Tables() ([]string, error)
}

// RuleClarifier flags change requests too vague to act on, asking rather
// than guessing. A request that already carries a structured plan is always
// actionable. Otherwise a too-short summary, a summary naming no known
// table, or a deletion naming no measure each raise a question. Answers on
// the request under the keys "summary", "table", and "measure" suppress the
// matching question on re-submission.
type RuleClarifier struct {
	Tables        TableLister
	MinSummaryLen int
}

// Clarify inspects the request and returns the questions it raises.
func (c *RuleClarifier) Clarify(_ context.Context, req *core.ChangeRequest) (*core.ClarifyResult, error) {
	if req.Plan != nil {
		return &core.ClarifyResult{}, nil
	}

	minLen := c.MinSummaryLen
	if minLen <= 0 {
		minLen = defaultMinSummaryLen
	}
	answered := func(key string) bool {
		return strings.TrimSpace(req.Clarifications[key]) != ""
	}

	var questions []string
	summary := strings.TrimSpace(req.Summary)
	if len(summary) < minLen && !answered("summary") {
		questions = append(questions, "What change should be made to the model?")
	}

	if c.Tables != nil && !answered("table") {
		tables, err := c.Tables.Tables()
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		if len(tables) > 0 && !mentionsAny(summary, tables) {
			questions = append(questions,
				fmt.Sprintf("Which table should the change target? Known tables: %s.", strings.Join(tables, ", ")))
		}
	}

	if wantsDelete(summary) && !namesMeasure(summary) && !answered("measure") {
		questions = append(questions, "Which measure should be deleted?")
	}

	return &core.ClarifyResult{
		NeedsClarification: len(questions) > 0,
		Questions:          questions,
	}, nil
}

func mentionsAny(summary string, tables []string) bool {
	lower := strings.ToLower(summary)
	for _, t := range tables {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func wantsDelete(summary string) bool {
	lower := strings.ToLower(summary)
	return strings.Contains(lower, "delete") ||
		strings.Contains(lower, "remove") ||
		strings.Contains(lower, "drop")
}

// namesMeasure reports whether the summary points at a specific measure,
// either bracketed or quoted.
func namesMeasure(summary string) bool {
	if strings.ContainsRune(summary, '[') && strings.ContainsRune(summary, ']') {
		return true
	}
	return strings.ContainsRune(summary, '\'') || strings.ContainsRune(summary, '"')
}

var _ workflow.Clarifier = (*RuleClarifier)(nil)
