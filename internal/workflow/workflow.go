// Package workflow drives a change request through the phased lifecycle:
// clarify, plan, validate, pre-test, execute, post-test, verify, complete.
// Execution delegates each mutation step to the healing controller; a step
// that cannot be healed triggers a reverse rollback of every step committed
// before it.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabwright-labs/tabwright/internal/heal"
	"github.com/tabwright-labs/tabwright/internal/mutation"
	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

// Clarifier decides whether a change request is actionable or needs answers
// from the requester first.
type Clarifier interface {
	Clarify(ctx context.Context, req *core.ChangeRequest) (*core.ClarifyResult, error)
}

// Planner builds a mutation plan for a change request that does not carry
// one already.
type Planner interface {
	BuildPlan(ctx context.Context, req *core.ChangeRequest) (*core.Plan, error)
}

// Options configures a workflow controller. Engine, Evaluator, and Diagnoser
// are required; the rest have working defaults (no persistence, a clarifier
// that treats every request as actionable, a planner that requires the
// request to carry its plan).
type Options struct {
	Engine    *mutation.Engine
	Evaluator evaluator.Evaluator
	Diagnoser diagnose.Diagnoser
	Clarifier Clarifier
	Planner   Planner
	Store     core.Store
	Logger    *slog.Logger
}

// Controller orchestrates workflow runs.
type Controller struct {
	logger    *slog.Logger
	engine    *mutation.Engine
	evaluator evaluator.Evaluator
	healer    *heal.Controller
	clarifier Clarifier
	planner   Planner
	store     core.Store
}

// New creates a workflow controller.
func New(opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("mutation engine is required")
	}
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if opts.Diagnoser == nil {
		return nil, fmt.Errorf("diagnoser is required")
	}

	clarifier := opts.Clarifier
	if clarifier == nil {
		clarifier = passClarifier{}
	}
	planner := opts.Planner
	if planner == nil {
		planner = requestPlanner{}
	}

	return &Controller{
		logger:    logger,
		engine:    opts.Engine,
		evaluator: opts.Evaluator,
		healer:    heal.New(logger, opts.Engine, opts.Evaluator, opts.Diagnoser),
		clarifier: clarifier,
		planner:   planner,
		store:     opts.Store,
	}, nil
}

// passClarifier treats every request as actionable.
type passClarifier struct{}

func (passClarifier) Clarify(_ context.Context, _ *core.ChangeRequest) (*core.ClarifyResult, error) {
	return &core.ClarifyResult{}, nil
}

// requestPlanner consumes the plan attached to the request.
type requestPlanner struct{}

func (requestPlanner) BuildPlan(_ context.Context, req *core.ChangeRequest) (*core.Plan, error) {
	if req.Plan == nil {
		return nil, fmt.Errorf("change request carries no plan and no planner is configured")
	}
	return req.Plan, nil
}
