// Package mutation applies structured measure mutations to model documents:
// create, update, and delete with rollback capture, written back through
// minimal-span rewrites.
package mutation

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tabwright-labs/tabwright/internal/cache"
	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

// Engine locates tables and measures across a model directory and applies
// mutation steps to them. Documents are read through the cache and replaced
// with a fresh parse after every write.
type Engine struct {
	logger *slog.Logger
	dir    string
	cache  *cache.Cache
	paths  []string
}

// New creates an engine over the model directory.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger, dir string, c *cache.Cache) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if c == nil {
		c = cache.New(logger)
	}
	return &Engine{logger: logger, dir: dir, cache: c}
}

// Discover walks the model directory and records every .tmdl file in sorted
// order. It must be called before any lookup or mutation.
func (e *Engine) Discover() error {
	var paths []string
	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); len(name) > 1 && name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".tmdl") {
			paths = append(paths, filepath.Clean(path))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", e.dir, err)
	}
	sort.Strings(paths)
	e.paths = paths
	e.logger.Debug("discovered model files", slog.Int("count", len(paths)), slog.String("dir", e.dir))
	return nil
}

// Paths returns the discovered model files in sorted order.
func (e *Engine) Paths() []string {
	out := make([]string, len(e.paths))
	copy(out, e.paths)
	return out
}

// Tables returns the names of every table across the discovered documents,
// in file order.
func (e *Engine) Tables() ([]string, error) {
	var names []string
	for _, path := range e.paths {
		doc, err := e.cache.Get(path)
		if err != nil {
			return nil, err
		}
		for _, t := range doc.Tables {
			names = append(names, t.Name)
		}
	}
	return names, nil
}

// FindTable returns the document and table with the given name.
func (e *Engine) FindTable(name string) (*tmdl.Document, *tmdl.Table, error) {
	for _, path := range e.paths {
		doc, err := e.cache.Get(path)
		if err != nil {
			return nil, nil, err
		}
		if t := doc.Table(name); t != nil {
			return doc, t, nil
		}
	}
	return nil, nil, &core.TargetNotFoundError{Kind: "table", Name: name}
}

// FindMeasure returns the document, table, and measure for the given names.
// An empty table name searches the whole model in file order.
func (e *Engine) FindMeasure(table, measure string) (*tmdl.Document, *tmdl.Table, *tmdl.Measure, error) {
	if table != "" {
		doc, t, err := e.FindTable(table)
		if err != nil {
			return nil, nil, nil, err
		}
		m := t.Measure(measure)
		if m == nil {
			return nil, nil, nil, &core.TargetNotFoundError{Kind: "measure", Name: measure}
		}
		return doc, t, m, nil
	}

	doc, t, m, err := e.locate(measure)
	if err != nil {
		return nil, nil, nil, err
	}
	if m == nil {
		return nil, nil, nil, &core.TargetNotFoundError{Kind: "measure", Name: measure}
	}
	return doc, t, m, nil
}

// locate scans every document for the named measure. All nils means absent.
func (e *Engine) locate(measure string) (*tmdl.Document, *tmdl.Table, *tmdl.Measure, error) {
	for _, path := range e.paths {
		doc, err := e.cache.Get(path)
		if err != nil {
			return nil, nil, nil, err
		}
		if t, m := doc.FindMeasure(measure); m != nil {
			return doc, t, m, nil
		}
	}
	return nil, nil, nil, nil
}

// CreateMeasure adds a new measure to the step's table. Measure names are
// unique within a table; the same name may exist in another table.
func (e *Engine) CreateMeasure(step *core.MutationStep) error {
	if step.Expression == nil || strings.TrimSpace(*step.Expression) == "" {
		return fmt.Errorf("create for measure %q requires an expression", step.Measure)
	}

	doc, t, err := e.FindTable(step.Table)
	if err != nil {
		return err
	}
	if t.Measure(step.Measure) != nil {
		return &core.NameConflictError{Table: t.Name, Measure: step.Measure}
	}

	created := &tmdl.Measure{
		Name:        step.Measure,
		Expression:  normalizeExpression(*step.Expression),
		IdentityTag: uuid.NewString(),
	}
	if step.FormatString != nil {
		created.FormatString = *step.FormatString
	}
	if step.Description != nil {
		created.Description = *step.Description
	}
	t.AppendMeasure(created)

	e.logger.Info("created measure",
		slog.String("table", t.Name),
		slog.String("measure", created.Name))
	return e.write(doc)
}

// UpdateMeasure changes the fields a step provides, leaving nil fields
// untouched. The pre-update state is captured on the step for rollback.
func (e *Engine) UpdateMeasure(step *core.MutationStep) error {
	if step.Expression == nil && step.FormatString == nil && step.Description == nil {
		return fmt.Errorf("update for measure %q changes nothing", step.Measure)
	}

	doc, t, m, err := e.FindMeasure(step.Table, step.Measure)
	if err != nil {
		return err
	}

	prev := m.Expression
	snap := Snapshot(t.Name, m)
	step.PreviousExpression = &prev
	step.Snapshot = &snap
	step.Table = t.Name

	if step.Expression != nil {
		m.Expression = normalizeExpression(*step.Expression)
	}
	if step.FormatString != nil {
		m.FormatString = *step.FormatString
	}
	if step.Description != nil {
		m.Description = *step.Description
	}
	if m.IdentityTag == "" {
		m.IdentityTag = uuid.NewString()
	}
	m.MarkDirty()
	t.MarkDirty()

	e.logger.Info("updated measure",
		slog.String("table", t.Name),
		slog.String("measure", m.Name))
	return e.write(doc)
}

// DeleteMeasure removes a measure, capturing a full snapshot on the step so
// the measure can be recreated with its identity tag intact.
func (e *Engine) DeleteMeasure(step *core.MutationStep) error {
	doc, t, m, err := e.FindMeasure(step.Table, step.Measure)
	if err != nil {
		return err
	}

	snap := Snapshot(t.Name, m)
	step.Snapshot = &snap
	step.Table = t.Name
	t.RemoveMeasure(m.Name)

	e.logger.Info("deleted measure",
		slog.String("table", t.Name),
		slog.String("measure", m.Name))
	return e.write(doc)
}

// Restore recreates a measure from a snapshot, identity tag included.
func (e *Engine) Restore(snap *core.MeasureSnapshot) error {
	doc, t, err := e.FindTable(snap.Table)
	if err != nil {
		return err
	}
	if t.Measure(snap.Name) != nil {
		return &core.NameConflictError{Table: t.Name, Measure: snap.Name}
	}

	restored := &tmdl.Measure{
		Name:         snap.Name,
		Expression:   snap.Expression,
		FormatString: snap.FormatString,
		Description:  snap.Description,
		IdentityTag:  snap.IdentityTag,
	}
	for _, a := range snap.Annotations {
		restored.Annotations = append(restored.Annotations, tmdl.Annotation{Name: a.Name, Value: a.Value})
	}
	t.AppendMeasure(restored)

	e.logger.Info("restored measure",
		slog.String("table", t.Name),
		slog.String("measure", restored.Name))
	return e.write(doc)
}

// Apply dispatches a step to the matching operation. Failures are wrapped so
// callers can attribute them to the step.
func (e *Engine) Apply(step *core.MutationStep) error {
	var err error
	switch step.Action {
	case core.ActionCreate:
		err = e.CreateMeasure(step)
	case core.ActionUpdate:
		err = e.UpdateMeasure(step)
	case core.ActionDelete:
		err = e.DeleteMeasure(step)
	default:
		err = fmt.Errorf("unknown step action %q", step.Action)
	}
	if err != nil {
		return &core.ApplyFailureError{Action: step.Action, Measure: step.Measure, Err: err}
	}
	return nil
}

// Revert undoes an applied step using the rollback captures Apply filled in.
func (e *Engine) Revert(step *core.MutationStep) error {
	var err error
	switch step.Action {
	case core.ActionCreate:
		del := core.MutationStep{Action: core.ActionDelete, Table: step.Table, Measure: step.Measure}
		err = e.DeleteMeasure(&del)
	case core.ActionUpdate:
		err = e.revertUpdate(step)
	case core.ActionDelete:
		if step.Snapshot == nil {
			err = fmt.Errorf("no snapshot captured")
		} else {
			err = e.Restore(step.Snapshot)
		}
	default:
		err = fmt.Errorf("unknown step action %q", step.Action)
	}
	if err != nil {
		return &core.RollbackFailureError{Action: step.Action, Measure: step.Measure, Err: err}
	}
	return nil
}

// revertUpdate puts the measure back exactly as the snapshot recorded it,
// including an identity tag that was absent before the update. When the
// snapshot carries the original block lines they are spliced back verbatim,
// so hand formatting the canonical renderer would normalize survives the
// round trip.
func (e *Engine) revertUpdate(step *core.MutationStep) error {
	if step.Snapshot == nil {
		return fmt.Errorf("no previous state captured")
	}
	snap := step.Snapshot
	doc, t, m, err := e.FindMeasure(snap.Table, step.Measure)
	if err != nil {
		return err
	}
	m.Expression = snap.Expression
	m.FormatString = snap.FormatString
	m.Description = snap.Description
	m.IdentityTag = snap.IdentityTag
	if snap.RawLines != nil {
		m.SetRawLines(snap.RawLines)
	} else {
		m.MarkDirty()
	}
	t.MarkDirty()

	e.logger.Info("reverted measure",
		slog.String("table", t.Name),
		slog.String("measure", m.Name))
	return e.write(doc)
}

// Snapshot captures a measure's full state for later restoration.
func Snapshot(table string, m *tmdl.Measure) core.MeasureSnapshot {
	snap := core.MeasureSnapshot{
		Table:        table,
		Name:         m.Name,
		Expression:   m.Expression,
		FormatString: m.FormatString,
		Description:  m.Description,
		IdentityTag:  m.IdentityTag,
		RawLines:     m.RawLines(),
	}
	for _, a := range m.Annotations {
		snap.Annotations = append(snap.Annotations, core.Annotation{Name: a.Name, Value: a.Value})
	}
	return snap
}

// write serializes doc, rewrites its file in place, and refreshes the cache
// with a re-parse so line spans match the bytes on disk.
func (e *Engine) write(doc *tmdl.Document) error {
	out := doc.Serialize()
	if err := os.WriteFile(doc.Path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", doc.Path, err)
	}
	fresh, err := tmdl.Parse(doc.Path, out)
	if err != nil {
		return fmt.Errorf("failed to re-parse %s: %w", doc.Path, err)
	}
	e.cache.Replace(fresh)
	return nil
}

func normalizeExpression(expr string) string {
	return strings.TrimSpace(strings.ReplaceAll(expr, "\r\n", "\n"))
}
