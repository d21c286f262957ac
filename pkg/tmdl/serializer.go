package tmdl

import (
	"sort"
	"strings"
)

// Serialize renders the document. With no pending mutations the output is
// byte-identical to the parsed source. Otherwise only the measure spans of
// mutated tables are rewritten; every line outside those spans is emitted
// unchanged, terminators included.
//
// Line indexes inside the document are not refreshed by Serialize; callers
// that keep mutating should re-parse the serialized bytes first.
func (d *Document) Serialize() []byte {
	var dirty []*Table
	for _, t := range d.Tables {
		if t.dirty {
			dirty = append(dirty, t)
		}
	}
	if len(dirty) == 0 {
		return []byte(strings.Join(d.lines, ""))
	}

	out := make([]string, len(d.lines))
	copy(out, d.lines)

	// Rewrite bottom-up so earlier spans keep their line positions.
	sort.Slice(dirty, func(i, j int) bool {
		return dirty[i].rewriteLine() > dirty[j].rewriteLine()
	})
	for _, t := range dirty {
		rendered := d.renderRun(t)
		if t.spanStart >= 0 {
			out = splice(out, t.spanStart, t.spanEnd+1, rendered)
			if len(rendered) == 0 {
				out = collapseBlankRun(out, t.spanStart)
			}
			continue
		}
		// The table had no measures: insert after its identity-tag line
		// (after the declaration when there is no tag), blank-separated.
		at := t.identityLine
		if at < 0 {
			at = t.declLine
		}
		if !strings.HasSuffix(out[at], "\n") {
			out[at] += d.eol
		}
		ins := make([]string, 0, len(rendered)+2)
		ins = append(ins, d.eol)
		ins = append(ins, rendered...)
		if at+1 < len(out) && !isBlankRaw(out[at+1]) {
			ins = append(ins, d.eol)
		}
		out = splice(out, at+1, at+1, ins)
	}

	// Restore the document's tail convention.
	if n := len(out); n > 0 {
		last := out[n-1]
		if d.noFinalNewline {
			out[n-1] = trimTerminator(last)
		} else if !strings.HasSuffix(last, "\n") {
			out[n-1] = last + d.eol
		}
	}
	return []byte(strings.Join(out, ""))
}

// renderRun renders the measure run of a table: untouched blocks verbatim,
// dirty and new blocks canonically, with at least one blank line between
// successive blocks.
func (d *Document) renderRun(t *Table) []string {
	var out []string
	for i, b := range t.blocks {
		if b.dirty || b.raw == nil {
			out = append(out, renderBlock(b, d.eol)...)
		} else {
			out = append(out, b.raw...)
		}
		if i < len(t.blocks)-1 {
			// A raw block captured at end-of-file may lack a terminator.
			if n := len(out); n > 0 && !strings.HasSuffix(out[n-1], "\n") {
				out[n-1] += d.eol
			}
			sep := b.sepAfter
			if len(sep) == 0 && (b.dirty || b.raw == nil || t.blocks[i+1].dirty || t.blocks[i+1].raw == nil) {
				sep = []string{d.eol}
			}
			out = append(out, sep...)
		}
	}
	return out
}

// renderBlock renders a measure block in canonical form: description lines,
// the declaration (inline or multi-line), then formatString, lineageTag and
// annotation properties.
func renderBlock(m *Measure, eol string) []string {
	if m.invalid && m.raw != nil {
		return append([]string(nil), m.raw...)
	}
	var out []string
	if m.Description != "" {
		for _, line := range strings.Split(m.Description, "\n") {
			out = append(out, "\t/// "+line+eol)
		}
	}
	name := renderName(m.Name)
	if m.Multiline() {
		out = append(out, "\tmeasure "+name+" ="+eol)
		for _, el := range strings.Split(m.Expression, "\n") {
			if el == "" {
				out = append(out, eol)
			} else {
				out = append(out, "\t\t"+el+eol)
			}
		}
	} else {
		out = append(out, "\tmeasure "+name+" = "+m.Expression+eol)
	}
	if m.FormatString != "" {
		out = append(out, "\t\tformatString: "+m.FormatString+eol)
	}
	if m.IdentityTag != "" {
		out = append(out, "\t\tlineageTag: "+m.IdentityTag+eol)
	}
	for _, a := range m.Annotations {
		out = append(out, "\t\tannotation "+a.Name+" = "+a.Value+eol)
	}
	return out
}

// rewriteLine is the document position a table rewrite anchors at.
func (t *Table) rewriteLine() int {
	if t.spanStart >= 0 {
		return t.spanStart
	}
	if t.identityLine >= 0 {
		return t.identityLine
	}
	return t.declLine
}

// MarkDirty flags the table so the next serialization rewrites its span.
func (t *Table) MarkDirty() { t.dirty = true }

// AppendMeasure adds a new measure block to the end of the table's run.
func (t *Table) AppendMeasure(m *Measure) {
	m.dirty = true
	t.blocks = append(t.blocks, m)
	t.Measures = append(t.Measures, m)
	t.dirty = true
}

// RemoveMeasure detaches the named measure from the run and returns it.
// Returns nil when no valid measure has that name.
func (t *Table) RemoveMeasure(name string) *Measure {
	m := t.Measure(name)
	if m == nil {
		return nil
	}
	t.Measures = removeMeasure(t.Measures, m)
	t.blocks = removeMeasure(t.blocks, m)
	t.dirty = true
	return m
}

func removeMeasure(s []*Measure, m *Measure) []*Measure {
	out := s[:0]
	for _, x := range s {
		if x != m {
			out = append(out, x)
		}
	}
	return out
}

// splice replaces lines[from:to] with repl.
func splice(lines []string, from, to int, repl []string) []string {
	out := make([]string, 0, len(lines)-(to-from)+len(repl))
	out = append(out, lines[:from]...)
	out = append(out, repl...)
	out = append(out, lines[to:]...)
	return out
}

// collapseBlankRun drops one blank line at the seam left by an emptied span.
func collapseBlankRun(lines []string, at int) []string {
	if at > 0 && at < len(lines) && isBlankRaw(lines[at-1]) && isBlankRaw(lines[at]) {
		return append(lines[:at:at], lines[at+1:]...)
	}
	return lines
}

func isBlankRaw(raw string) bool {
	return strings.TrimSpace(lineContent(raw)) == ""
}

// trimTerminator strips exactly one line terminator.
func trimTerminator(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}
