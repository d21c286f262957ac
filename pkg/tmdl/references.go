package tmdl

import "strings"

// Reference is a single object reference extracted from an expression:
// 'Table'[Column], Table[Column], a bare [Measure], or a bare 'Table'.
type Reference struct {
	Table string // empty for bare bracket references
	Name  string // bracket content; empty for table-only references
}

// References extracts object references from an expression with a single
// scan. String literals and comments are skipped; the expression is otherwise
// treated as opaque text, so this is a best-effort extraction for reference
// validation, not an expression parser.
func References(expr string) []Reference {
	var refs []Reference
	seen := make(map[Reference]bool)
	add := func(r Reference) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}

	i := 0
	n := len(expr)
	for i < n {
		c := expr[i]
		switch {
		case c == '"':
			i = skipString(expr, i)
		case c == '/' && i+1 < n && expr[i+1] == '/':
			for i < n && expr[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && expr[i+1] == '*':
			end := strings.Index(expr[i+2:], "*/")
			if end < 0 {
				return refs
			}
			i += end + 4
		case c == '\'':
			table, next, ok := scanQuoted(expr, i)
			if !ok {
				return refs
			}
			i = next
			if i < n && expr[i] == '[' {
				name, after, ok := scanBracket(expr, i)
				if ok {
					add(Reference{Table: table, Name: name})
					i = after
					continue
				}
			}
			add(Reference{Table: table})
		case c == '[':
			name, after, ok := scanBracket(expr, i)
			if !ok {
				return refs
			}
			add(Reference{Name: name})
			i = after
		case isIdentStartByte(c):
			start := i
			for i < n && isIdentByte(expr[i]) {
				i++
			}
			// An identifier directly followed by a bracket is a table
			// reference; anything else is a function or keyword.
			if i < n && expr[i] == '[' {
				name, after, ok := scanBracket(expr, i)
				if ok {
					add(Reference{Table: expr[start:i], Name: name})
					i = after
				}
			}
		default:
			i++
		}
	}
	return refs
}

// skipString advances past a double-quoted literal, honoring "" escapes.
func skipString(expr string, i int) int {
	i++
	for i < len(expr) {
		if expr[i] == '"' {
			if i+1 < len(expr) && expr[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// scanQuoted reads a single-quoted name starting at i, honoring '' escapes.
func scanQuoted(expr string, i int) (name string, next int, ok bool) {
	var b strings.Builder
	i++
	for i < len(expr) {
		if expr[i] == '\'' {
			if i+1 < len(expr) && expr[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), i + 1, true
		}
		b.WriteByte(expr[i])
		i++
	}
	return "", i, false
}

// scanBracket reads a [bracketed] name starting at i.
func scanBracket(expr string, i int) (name string, next int, ok bool) {
	end := strings.IndexByte(expr[i+1:], ']')
	if end < 0 {
		return "", i, false
	}
	return expr[i+1 : i+1+end], i + end + 2, true
}

func isIdentStartByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || c >= '0' && c <= '9'
}
