package tmdl

import "strings"

// reservedNames are declaration keywords that must be quoted when used as
// object names.
var reservedNames = map[string]bool{
	"table":        true,
	"measure":      true,
	"column":       true,
	"partition":    true,
	"hierarchy":    true,
	"relationship": true,
	"model":        true,
	"annotation":   true,
}

// needsQuoting reports whether a name must be rendered in single quotes.
func needsQuoting(name string) bool {
	if name == "" || reservedNames[name] {
		return true
	}
	if name[0] >= '0' && name[0] <= '9' {
		return true
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return true
		}
	}
	return false
}

// renderName renders a name bare or quoted as required, escaping embedded
// quotes by doubling.
func renderName(name string) string {
	if !needsQuoting(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// parseName extracts a leading bare or quoted name from s and returns the
// name and the unconsumed remainder. The empty name is an error reported by
// the caller; parseName signals it with ok=false.
func parseName(s string) (name, rest string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	if s[0] == '\'' {
		var b strings.Builder
		i := 1
		for i < len(s) {
			if s[i] == '\'' {
				// Doubled quote is an escaped quote inside the name.
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				return b.String(), strings.TrimSpace(s[i+1:]), true
			}
			b.WriteByte(s[i])
			i++
		}
		return "", "", false // unterminated quote
	}
	end := len(s)
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '=' {
			end = i
			break
		}
	}
	name = s[:end]
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(s[end:]), true
}
