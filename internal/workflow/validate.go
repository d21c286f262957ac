package workflow

// validate.go - static plan validation before any mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/evaluator"
	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

// validatePlan checks every step against the current model state without
// applying anything. Measures created by earlier steps count as resolvable
// for the reference checks of later ones.
func (c *Controller) validatePlan(ctx context.Context, plan *core.Plan) error {
	planned := newPlannedSet()
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if err := c.validateStep(ctx, step, planned); err != nil {
			return fmt.Errorf("step %d (%s %s): %w", i+1, step.Action, step.Measure, err)
		}
		if step.Action == core.ActionCreate {
			planned.add(step.Table, step.Measure)
		}
	}
	return nil
}

// plannedSet tracks measures earlier steps create: per table for conflict
// checks, by name for bare reference resolution.
type plannedSet struct {
	byTable map[string]map[string]bool
	names   map[string]bool
}

func newPlannedSet() *plannedSet {
	return &plannedSet{byTable: make(map[string]map[string]bool), names: make(map[string]bool)}
}

func (p *plannedSet) add(table, measure string) {
	set := p.byTable[table]
	if set == nil {
		set = make(map[string]bool)
		p.byTable[table] = set
	}
	set[measure] = true
	p.names[measure] = true
}

func (p *plannedSet) inTable(table, measure string) bool { return p.byTable[table][measure] }

func (p *plannedSet) hasName(name string) bool { return p.names[name] }

func (c *Controller) validateStep(ctx context.Context, step *core.MutationStep, planned *plannedSet) error {
	switch step.Action {
	case core.ActionCreate:
		if step.Expression == nil || strings.TrimSpace(*step.Expression) == "" {
			return errors.New("create requires an expression")
		}
		_, t, err := c.engine.FindTable(step.Table)
		if err != nil {
			return err
		}
		if t.Measure(step.Measure) != nil {
			return &core.NameConflictError{Table: t.Name, Measure: step.Measure}
		}
		if planned.inTable(step.Table, step.Measure) {
			return fmt.Errorf("an earlier step already creates measure %q", step.Measure)
		}

	case core.ActionUpdate:
		if step.Expression == nil && step.FormatString == nil && step.Description == nil {
			return errors.New("update changes nothing")
		}
		if _, _, _, err := c.engine.FindMeasure(step.Table, step.Measure); err != nil {
			return err
		}

	case core.ActionDelete:
		if _, _, _, err := c.engine.FindMeasure(step.Table, step.Measure); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown step action %q", step.Action)
	}

	if step.Expression != nil {
		return c.validateExpression(ctx, step.Table, *step.Expression, planned)
	}
	return nil
}

// validateExpression runs the local balance pre-check, the evaluator's syntax
// check, and best-effort reference resolution. A non-nil error is either a
// *core.ValidationFailureError or an evaluator transport failure.
func (c *Controller) validateExpression(ctx context.Context, tableName, expr string, planned *plannedSet) error {
	if sr := evaluator.CheckBalance(expr); !sr.Valid {
		return &core.ValidationFailureError{Stage: "syntax", Detail: sr.Message}
	}
	sr, err := c.evaluator.ValidateSyntax(ctx, expr)
	if err != nil {
		return fmt.Errorf("failed to validate syntax: %w", err)
	}
	if !sr.Valid {
		return &core.ValidationFailureError{Stage: "syntax", Detail: sr.Message}
	}

	for _, ref := range tmdl.References(expr) {
		if ref.Table != "" {
			_, t, err := c.engine.FindTable(ref.Table)
			if err != nil {
				return &core.ValidationFailureError{
					Stage:  "reference",
					Detail: fmt.Sprintf("expression references unknown table %q", ref.Table),
				}
			}
			if ref.Name != "" && !tableHas(t, ref.Name) {
				return &core.ValidationFailureError{
					Stage:  "reference",
					Detail: fmt.Sprintf("table %q has no column or measure %q", ref.Table, ref.Name),
				}
			}
			continue
		}
		if !c.resolvesBareName(tableName, expr, ref.Name, planned) {
			return &core.ValidationFailureError{
				Stage:  "reference",
				Detail: fmt.Sprintf("expression references unknown name %q", ref.Name),
			}
		}
	}
	return nil
}

// resolvesBareName reports whether a bare bracket reference resolves to a
// measure anywhere in the model, a column of the step's table, a measure an
// earlier step creates, or a virtual column the expression itself defines
// with a quoted name.
func (c *Controller) resolvesBareName(tableName, expr, name string, planned *plannedSet) bool {
	if planned.hasName(name) {
		return true
	}
	if _, _, _, err := c.engine.FindMeasure("", name); err == nil {
		return true
	}
	if tableName != "" {
		if _, t, err := c.engine.FindTable(tableName); err == nil {
			if tableHas(t, name) {
				return true
			}
		}
	}
	return strings.Contains(expr, `"`+name+`"`)
}

// tableHas reports whether the table carries a column or measure by name.
func tableHas(t *tmdl.Table, name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	for _, m := range t.Measures {
		if m.Name == name {
			return true
		}
	}
	return false
}
