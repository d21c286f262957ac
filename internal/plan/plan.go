// Package plan loads mutation plans from YAML and decides when a change
// request needs clarification before one can be built.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// planSpec is the YAML wire form of a plan. Unknown fields are rejected.
type planSpec struct {
	Summary string     `yaml:"summary"`
	Risks   []string   `yaml:"risks"`
	Steps   []stepSpec `yaml:"steps"`
	Tests   []testSpec `yaml:"tests"`
}

// stepSpec is the YAML wire form of one mutation step. Optional fields are
// pointers so an absent key and an empty value stay distinguishable.
type stepSpec struct {
	Action       string  `yaml:"action"`
	Table        string  `yaml:"table"`
	Measure      string  `yaml:"measure"`
	Expression   *string `yaml:"expression"`
	FormatString *string `yaml:"format_string"`
	Description  *string `yaml:"description"`
}

type testSpec struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// Load reads and parses a plan file.
func Load(path string) (*core.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML plan. Unknown fields, unknown actions, and steps
// missing their required fields are all rejected here so the workflow only
// ever sees well-formed plans.
func Parse(data []byte) (*core.Plan, error) {
	var spec planSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan is empty")
		}
		return nil, fmt.Errorf("invalid plan YAML: %w", err)
	}
	return spec.toPlan()
}

func (s *planSpec) toPlan() (*core.Plan, error) {
	if len(s.Steps) == 0 {
		return nil, errors.New("plan has no steps")
	}

	p := &core.Plan{Summary: s.Summary, Risks: s.Risks}
	for i, st := range s.Steps {
		step, err := st.toStep()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		p.Steps = append(p.Steps, step)
	}
	for i, ts := range s.Tests {
		if strings.TrimSpace(ts.Name) == "" {
			return nil, fmt.Errorf("test %d: name is required", i+1)
		}
		if strings.TrimSpace(ts.Query) == "" {
			return nil, fmt.Errorf("test %d (%s): query is required", i+1, ts.Name)
		}
		p.TestCases = append(p.TestCases, core.TestQuery{Name: ts.Name, Query: ts.Query})
	}
	return p, nil
}

func (s *stepSpec) toStep() (core.MutationStep, error) {
	var action core.StepAction
	switch s.Action {
	case "create":
		action = core.ActionCreate
	case "update":
		action = core.ActionUpdate
	case "delete":
		action = core.ActionDelete
	case "":
		return core.MutationStep{}, errors.New("action is required")
	default:
		return core.MutationStep{}, fmt.Errorf("invalid action %q, must be one of: create, update, delete", s.Action)
	}

	if strings.TrimSpace(s.Measure) == "" {
		return core.MutationStep{}, errors.New("measure is required")
	}
	switch action {
	case core.ActionCreate:
		if s.Expression == nil || strings.TrimSpace(*s.Expression) == "" {
			return core.MutationStep{}, errors.New("create requires an expression")
		}
	case core.ActionUpdate:
		if s.Expression == nil && s.FormatString == nil && s.Description == nil {
			return core.MutationStep{}, errors.New("update changes nothing")
		}
	}

	return core.MutationStep{
		Action:       action,
		Table:        s.Table,
		Measure:      s.Measure,
		Expression:   s.Expression,
		FormatString: s.FormatString,
		Description:  s.Description,
	}, nil
}
