package plan

import (
	"context"
	"errors"

	"github.com/tabwright-labs/tabwright/internal/workflow"
	"github.com/tabwright-labs/tabwright/pkg/core"
)

// StaticPlanner serves one pre-built plan regardless of the request. It backs
// the CLI, where the plan arrives as a file rather than from a planning
// service.
type StaticPlanner struct {
	Plan *core.Plan
}

// BuildPlan returns the configured plan.
func (p *StaticPlanner) BuildPlan(context.Context, *core.ChangeRequest) (*core.Plan, error) {
	if p.Plan == nil {
		return nil, errors.New("no plan loaded")
	}
	return p.Plan, nil
}

var _ workflow.Planner = (*StaticPlanner)(nil)
