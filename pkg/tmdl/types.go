package tmdl

import "strings"

// Document is a parsed model definition file. It owns the raw lines of the
// source (terminators included) so serialization can reproduce untouched
// regions byte for byte.
type Document struct {
	Path          string
	Tables        []*Table
	Relationships []*Relationship
	Warnings      []string

	lines          []string // raw lines including terminators; last may lack one
	eol            string   // terminator for newly rendered lines
	noFinalNewline bool
}

// EOL returns the line terminator convention of the document.
func (d *Document) EOL() string { return d.eol }

// Table returns the table with the given name, or nil.
func (d *Document) Table(name string) *Table {
	for _, t := range d.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// FindMeasure returns the first table containing a measure with the given
// name, together with the measure itself. Returns nils when absent.
func (d *Document) FindMeasure(name string) (*Table, *Measure) {
	for _, t := range d.Tables {
		if m := t.Measure(name); m != nil {
			return t, m
		}
	}
	return nil, nil
}

// Table is a table declaration and its parsed members. Line indexes refer to
// positions in the owning document at parse time; mutations never shift them
// (callers re-parse after writing a serialized document).
type Table struct {
	Name        string
	Description string
	IdentityTag string
	Columns     []*Column
	Hierarchies []*Hierarchy
	Partitions  []*Partition

	// Measures holds the addressable measures of the contiguous measure run,
	// in file order. Invalid blocks stay in the run for serialization but are
	// excluded here.
	Measures []*Measure

	declLine     int
	identityLine int // line of the table's lineageTag property, -1 if none
	blocks       []*Measure
	spanStart    int // first line of the measure run, -1 when the table has none
	spanEnd      int // last line of the measure run
	dirty        bool
}

// Measure returns the first valid measure with the given name, or nil.
func (t *Table) Measure(name string) *Measure {
	for _, m := range t.Measures {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Measure is a single measure block. The raw fields capture the original
// lines so untouched measures re-serialize verbatim.
type Measure struct {
	Name         string
	Expression   string // multi-line expressions joined with "\n"
	FormatString string
	Description  string // multi-line descriptions joined with "\n"
	IdentityTag  string
	Annotations  []Annotation

	raw       []string // original block lines incl. terminators; nil for new measures
	sepAfter  []string // raw blank lines separating this block from the next in the run
	dirty     bool
	invalid   bool
	startLine int
	endLine   int
}

// Dirty reports whether the measure has pending unserialized changes.
func (m *Measure) Dirty() bool { return m.dirty }

// MarkDirty flags the measure so the next serialization re-renders its block.
func (m *Measure) MarkDirty() { m.dirty = true }

// RawLines returns a copy of the block's original lines, terminators
// included. Nil for measures created in memory.
func (m *Measure) RawLines() []string {
	if m.raw == nil {
		return nil
	}
	return append([]string(nil), m.raw...)
}

// SetRawLines replaces the block's serialized form with lines and clears the
// dirty flag, so the next serialization emits them verbatim. The caller must
// keep the parsed fields consistent with the lines.
func (m *Measure) SetRawLines(lines []string) {
	m.raw = append([]string(nil), lines...)
	m.dirty = false
	m.invalid = false
}

// Multiline reports whether the expression renders in block form.
func (m *Measure) Multiline() bool { return strings.Contains(m.Expression, "\n") }

// Annotation is a name/value property line of a measure block.
type Annotation struct {
	Name  string
	Value string
}

// Column is a parsed column declaration. Columns are read-only: the engine
// never mutates them, but their names participate in reference validation.
type Column struct {
	Name        string
	DataType    string
	IdentityTag string
}

// Hierarchy is a parsed hierarchy declaration (name only; body opaque).
type Hierarchy struct {
	Name string
}

// Partition is a parsed partition declaration (name only; body opaque).
type Partition struct {
	Name string
}

// Relationship is a read-only model edge between two columns.
type Relationship struct {
	ID                   string
	FromColumn           string // "Table.Column" or "'Table Name'.Column"
	ToColumn             string
	FromCardinality      string // "many" (default) or "one"
	ToCardinality        string // "one" (default) or "many"
	CrossFilterDirection string // "Single" (default) or "Both"
	IsActive             bool
}

// Cardinality renders the relationship cardinality in "from:to" notation,
// e.g. "*:1" for the default many-to-one edge.
func (r *Relationship) Cardinality() string {
	from := "*"
	if r.FromCardinality == "one" {
		from = "1"
	}
	to := "1"
	if r.ToCardinality == "many" {
		to = "*"
	}
	return from + ":" + to
}
