package tmdl

import (
	"fmt"
	"strings"
)

// parseMode tracks where in the document structure the scanner currently is.
type parseMode int

const (
	atTop parseMode = iota
	atSkip
	atTable
	atMeasure
	atMember
	atRelationship
)

// topLevelKeywords are declarations recognized at depth 0. A document with
// none of these anywhere is not a model file.
var topLevelKeywords = map[string]bool{
	"table":        true,
	"relationship": true,
	"model":        true,
	"expression":   true,
	"database":     true,
	"role":         true,
	"perspective":  true,
	"culture":      true,
}

// Parse scans src into a Document in a single forward pass. The document
// retains every raw line; parsing never rewrites content.
//
// Parse is tolerant of partial models: unreadable tables and measure blocks
// are recorded as warnings and preserved verbatim. A *ParseError is returned
// only when the source contains no recognizable top-level declaration at all.
func Parse(path string, src []byte) (*Document, error) {
	doc := &Document{
		Path:  path,
		lines: splitLines(src),
	}
	doc.eol = detectEOL(doc.lines)
	doc.noFinalNewline = len(doc.lines) > 0 && !strings.HasSuffix(doc.lines[len(doc.lines)-1], "\n")

	p := &parser{doc: doc, pendingDocStart: -1}
	for i, raw := range doc.lines {
		p.line(i, lineContent(raw))
	}
	p.closeMeasure()

	if !p.sawDecl {
		if n, ok := firstContentLine(doc.lines); ok {
			return nil, &ParseError{Path: path, Line: n + 1, Message: "no recognizable model declaration"}
		}
	}
	return doc, nil
}

// parser holds the scan state for a single document.
type parser struct {
	doc  *Document
	mode parseMode

	table *Table
	meas  *measureState
	col   *Column
	rel   *Relationship

	// runClosed is set once a non-measure member or property follows the
	// measure run of the current table; later measure blocks are strays.
	runClosed bool
	sawDecl   bool

	pendingDocs     []string
	pendingDocStart int
	pendingBlanks   []int
}

// measureState accumulates one measure block until it is flushed.
type measureState struct {
	m          *Measure
	start, end int
	exprLines  []string
	collecting bool
	reason     string // non-empty marks the block invalid
}

func (p *parser) line(i int, c string) {
	trimmed := strings.TrimSpace(c)
	if trimmed == "" {
		p.pendingBlanks = append(p.pendingBlanks, i)
		return
	}
	depth := indentDepth(c)

	// Doc-comment lines attach to the next declaration. Inside a collecting
	// expression they are expression text, not documentation.
	if strings.HasPrefix(trimmed, "///") && !(p.mode == atMeasure && p.meas != nil && p.meas.collecting && depth >= 2) {
		if p.pendingDocStart < 0 {
			p.closeMeasure()
			p.attachSeparation()
			p.pendingDocStart = i
		}
		text := strings.TrimPrefix(trimmed, "///")
		text = strings.TrimPrefix(text, " ")
		p.pendingDocs = append(p.pendingDocs, text)
		return
	}

	switch {
	case depth == 0:
		p.closeMeasure()
		p.closeTable()
		p.topLevel(i, trimmed)
	case depth == 1:
		switch p.mode {
		case atRelationship:
			p.relationshipProperty(trimmed)
		case atTop, atSkip:
			// Opaque body of an unparsed or unknown top-level block.
		default:
			p.tableLine(i, trimmed)
		}
	default:
		switch p.mode {
		case atMeasure:
			p.measureLine(i, c, trimmed)
		case atMember:
			p.memberProperty(trimmed)
		default:
			// Opaque deeper content (partition sources and the like).
		}
	}
}

func (p *parser) topLevel(i int, trimmed string) {
	keyword, rest := splitKeyword(trimmed)
	defer func() {
		p.pendingDocs = nil
		p.pendingDocStart = -1
		p.pendingBlanks = nil
	}()

	switch keyword {
	case "table":
		p.sawDecl = true
		name, rem, ok := parseName(rest)
		if !ok || rem != "" {
			p.warnf(i, "skipping unreadable table declaration")
			p.mode = atSkip
			return
		}
		t := &Table{
			Name:         name,
			Description:  strings.Join(p.pendingDocs, "\n"),
			declLine:     i,
			identityLine: -1,
			spanStart:    -1,
			spanEnd:      -1,
		}
		p.doc.Tables = append(p.doc.Tables, t)
		p.table = t
		p.mode = atTable
		p.runClosed = false
	case "relationship":
		p.sawDecl = true
		name, _, ok := parseName(rest)
		if !ok {
			p.warnf(i, "skipping unreadable relationship declaration")
			p.mode = atSkip
			return
		}
		r := &Relationship{
			ID:                   name,
			FromCardinality:      "many",
			ToCardinality:        "one",
			CrossFilterDirection: "Single",
			IsActive:             true,
		}
		p.doc.Relationships = append(p.doc.Relationships, r)
		p.rel = r
		p.mode = atRelationship
	default:
		if topLevelKeywords[keyword] {
			p.sawDecl = true
		}
		p.mode = atTop
	}
}

func (p *parser) tableLine(i int, trimmed string) {
	keyword, rest := splitKeyword(trimmed)
	switch keyword {
	case "measure":
		p.closeMeasure()
		if p.runClosed {
			name, _, _ := parseName(rest)
			p.warnf(i, "skipping non-contiguous measure block %q in table %q", name, p.table.Name)
			p.resetPending()
			p.col = nil
			p.mode = atMember
			return
		}
		p.attachSeparation()
		p.startMeasure(i, rest)
	case "column":
		p.closeMeasure()
		p.closeRun()
		name, _, ok := parseName(rest)
		if ok {
			col := &Column{Name: name}
			p.table.Columns = append(p.table.Columns, col)
			p.col = col
		} else {
			p.col = nil
		}
		p.resetPending()
		p.mode = atMember
	case "partition":
		p.closeMeasure()
		p.closeRun()
		if name, _, ok := parseName(rest); ok {
			p.table.Partitions = append(p.table.Partitions, &Partition{Name: name})
		}
		p.col = nil
		p.resetPending()
		p.mode = atMember
	case "hierarchy":
		p.closeMeasure()
		p.closeRun()
		if name, _, ok := parseName(rest); ok {
			p.table.Hierarchies = append(p.table.Hierarchies, &Hierarchy{Name: name})
		}
		p.col = nil
		p.resetPending()
		p.mode = atMember
	default:
		p.closeMeasure()
		p.closeRun()
		if key, val, ok := parseProperty(trimmed); ok && key == "lineageTag" && p.table.IdentityTag == "" {
			p.table.IdentityTag = val
			p.table.identityLine = i
		}
		p.col = nil
		p.resetPending()
		p.mode = atTable
	}
}

func (p *parser) startMeasure(i int, rest string) {
	m := &Measure{}
	st := &measureState{m: m, start: i, end: i}
	if p.pendingDocStart >= 0 {
		st.start = p.pendingDocStart
		m.Description = strings.Join(p.pendingDocs, "\n")
	}
	p.resetPending()

	name, rem, ok := parseName(rest)
	if !ok {
		st.reason = "unreadable measure name"
	} else {
		m.Name = name
		switch {
		case rem == "":
			st.reason = "missing '=' in measure declaration"
		case strings.HasPrefix(rem, "="):
			inline := strings.TrimSpace(rem[1:])
			if inline == "" {
				st.collecting = true
			} else {
				m.Expression = inline
			}
		default:
			st.reason = fmt.Sprintf("unexpected text after measure name: %q", rem)
		}
	}
	p.meas = st
	p.mode = atMeasure
}

func (p *parser) measureLine(i int, c, trimmed string) {
	st := p.meas
	st.end = i
	if st.collecting {
		if key, val, full, ok := measureProperty(trimmed); ok {
			st.collecting = false
			p.pendingBlanks = nil
			p.applyMeasureProperty(key, val, full)
			return
		}
		// Blank lines between continuation lines belong to the expression.
		for range p.pendingBlanks {
			st.exprLines = append(st.exprLines, "")
		}
		p.pendingBlanks = nil
		st.exprLines = append(st.exprLines, stripIndent(c, 2))
		return
	}
	p.pendingBlanks = nil
	if key, val, full, ok := measureProperty(trimmed); ok {
		p.applyMeasureProperty(key, val, full)
		return
	}
	if st.reason == "" {
		keyword, _ := splitKeyword(trimmed)
		st.reason = fmt.Sprintf("unrecognized measure property %q", keyword)
	}
}

func (p *parser) applyMeasureProperty(key, val, full string) {
	st := p.meas
	switch key {
	case "formatString":
		st.m.FormatString = val
	case "lineageTag":
		st.m.IdentityTag = val
	case "annotation":
		name, value, ok := splitAnnotation(val)
		if !ok {
			if st.reason == "" {
				st.reason = fmt.Sprintf("malformed annotation %q", full)
			}
			return
		}
		st.m.Annotations = append(st.m.Annotations, Annotation{Name: name, Value: value})
	}
}

// closeMeasure flushes the open measure block, if any, into the table run.
func (p *parser) closeMeasure() {
	st := p.meas
	if st == nil {
		return
	}
	p.meas = nil
	m := st.m

	if st.collecting && len(st.exprLines) == 0 && st.reason == "" {
		st.reason = "empty expression"
	}
	if len(st.exprLines) > 0 {
		m.Expression = strings.Join(st.exprLines, "\n")
	}
	m.startLine = st.start
	m.endLine = st.end
	m.raw = append([]string(nil), p.doc.lines[st.start:st.end+1]...)

	t := p.table
	t.blocks = append(t.blocks, m)
	if t.spanStart < 0 {
		t.spanStart = st.start
	}
	t.spanEnd = st.end

	if st.reason != "" {
		m.invalid = true
		p.warnf(st.start, "skipping measure %q in table %q: %s", m.Name, t.Name, st.reason)
	} else {
		if t.Measure(m.Name) != nil {
			p.warnf(st.start, "duplicate measure %q in table %q", m.Name, t.Name)
		}
		t.Measures = append(t.Measures, m)
	}
	if p.mode == atMeasure {
		p.mode = atTable
	}
}

// closeRun marks the measure run of the current table finished.
func (p *parser) closeRun() {
	if len(p.table.blocks) > 0 {
		p.runClosed = true
	}
}

// closeTable resets per-table state at the next top-level declaration.
func (p *parser) closeTable() {
	p.table = nil
	p.col = nil
	p.rel = nil
	p.runClosed = false
	p.pendingBlanks = nil
}

// attachSeparation hands the buffered blank lines to the previous measure
// block as its separation from the next one.
func (p *parser) attachSeparation() {
	if p.table != nil && !p.runClosed && len(p.table.blocks) > 0 && len(p.pendingBlanks) > 0 {
		prev := p.table.blocks[len(p.table.blocks)-1]
		prev.sepAfter = prev.sepAfter[:0]
		for _, idx := range p.pendingBlanks {
			prev.sepAfter = append(prev.sepAfter, p.doc.lines[idx])
		}
	}
	p.pendingBlanks = nil
}

func (p *parser) resetPending() {
	p.pendingDocs = nil
	p.pendingDocStart = -1
	p.pendingBlanks = nil
}

func (p *parser) relationshipProperty(trimmed string) {
	key, val, ok := parseProperty(trimmed)
	if !ok || p.rel == nil {
		return
	}
	switch key {
	case "fromColumn":
		p.rel.FromColumn = val
	case "toColumn":
		p.rel.ToColumn = val
	case "isActive":
		p.rel.IsActive = val != "false"
	case "crossFilteringBehavior":
		if val == "bothDirections" {
			p.rel.CrossFilterDirection = "Both"
		}
	case "fromCardinality":
		p.rel.FromCardinality = val
	case "toCardinality":
		p.rel.ToCardinality = val
	}
}

func (p *parser) memberProperty(trimmed string) {
	if p.col == nil {
		return
	}
	key, val, ok := parseProperty(trimmed)
	if !ok {
		return
	}
	switch key {
	case "dataType":
		p.col.DataType = val
	case "lineageTag":
		p.col.IdentityTag = val
	}
}

func (p *parser) warnf(line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.doc.Warnings = append(p.doc.Warnings, fmt.Sprintf("line %d: %s", line+1, msg))
}

// --- Line helpers ---

// splitLines splits src into lines, each retaining its terminator. The final
// line lacks one when the source does not end with a newline.
func splitLines(src []byte) []string {
	if len(src) == 0 {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			out = append(out, string(src[start:i+1]))
			start = i + 1
		}
	}
	if start < len(src) {
		out = append(out, string(src[start:]))
	}
	return out
}

// lineContent strips the terminator from a raw line.
func lineContent(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}

func detectEOL(lines []string) string {
	for _, l := range lines {
		if strings.HasSuffix(l, "\r\n") {
			return "\r\n"
		}
		if strings.HasSuffix(l, "\n") {
			return "\n"
		}
	}
	return "\n"
}

// indentDepth counts indentation levels: one tab, or four spaces, per level.
func indentDepth(c string) int {
	tabs := 0
	for tabs < len(c) && c[tabs] == '\t' {
		tabs++
	}
	if tabs > 0 {
		return tabs
	}
	spaces := 0
	for spaces < len(c) && c[spaces] == ' ' {
		spaces++
	}
	return spaces / 4
}

// stripIndent removes up to n levels of leading indentation, preserving any
// deeper indentation as expression content.
func stripIndent(c string, n int) string {
	for i := 0; i < n; i++ {
		switch {
		case strings.HasPrefix(c, "\t"):
			c = c[1:]
		case strings.HasPrefix(c, "    "):
			c = c[4:]
		default:
			return c
		}
	}
	return c
}

func splitKeyword(trimmed string) (keyword, rest string) {
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == ' ' || trimmed[i] == '\t' {
			return trimmed[:i], strings.TrimSpace(trimmed[i:])
		}
	}
	return trimmed, ""
}

// parseProperty splits a "key: value" property line.
func parseProperty(trimmed string) (key, val string, ok bool) {
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	for _, r := range key {
		if !isIdentRune(r) {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(trimmed[idx+1:]), true
}

// measureProperty recognizes the property lines of a measure block.
func measureProperty(trimmed string) (key, val, full string, ok bool) {
	if strings.HasPrefix(trimmed, "formatString:") {
		return "formatString", strings.TrimSpace(trimmed[len("formatString:"):]), trimmed, true
	}
	if strings.HasPrefix(trimmed, "lineageTag:") {
		return "lineageTag", strings.TrimSpace(trimmed[len("lineageTag:"):]), trimmed, true
	}
	if rest, found := strings.CutPrefix(trimmed, "annotation "); found {
		return "annotation", rest, trimmed, true
	}
	return "", "", "", false
}

// splitAnnotation splits "Name = Value" annotation content.
func splitAnnotation(s string) (name, value string, ok bool) {
	idx := strings.Index(s, "=")
	if idx <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:idx])
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(s[idx+1:]), true
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	}
	return false
}

func firstContentLine(lines []string) (int, bool) {
	for i, raw := range lines {
		if strings.TrimSpace(lineContent(raw)) != "" {
			return i, true
		}
	}
	return 0, false
}
