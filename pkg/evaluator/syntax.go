package evaluator

import (
	"fmt"
	"strings"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

// CheckBalance is the local pre-flight syntax gate: it verifies that
// parentheses, brackets, braces, string literals and quoted names are
// balanced, skipping comments. It runs before any document write. It cannot
// prove an expression valid, only reject ones no evaluator would accept.
func CheckBalance(expression string) *core.SyntaxResult {
	var stack []byte
	i := 0
	n := len(expression)
	for i < n {
		c := expression[i]
		switch {
		case c == '"':
			next, ok := skipQuoted(expression, i, '"')
			if !ok {
				return &core.SyntaxResult{Message: "unterminated string literal"}
			}
			i = next
		case c == '\'':
			next, ok := skipQuoted(expression, i, '\'')
			if !ok {
				return &core.SyntaxResult{Message: "unterminated quoted name"}
			}
			i = next
		case c == '/' && i+1 < n && expression[i+1] == '/':
			i = skipToLineEnd(expression, i)
		case c == '-' && i+1 < n && expression[i+1] == '-':
			i = skipToLineEnd(expression, i)
		case c == '/' && i+1 < n && expression[i+1] == '*':
			end := strings.Index(expression[i+2:], "*/")
			if end < 0 {
				return &core.SyntaxResult{Message: "unterminated block comment"}
			}
			i += end + 4
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
			i++
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != opener(c) {
				return &core.SyntaxResult{Message: fmt.Sprintf("unmatched %q", string(c))}
			}
			stack = stack[:len(stack)-1]
			i++
		default:
			i++
		}
	}
	if len(stack) > 0 {
		return &core.SyntaxResult{Message: fmt.Sprintf("unclosed %q", string(stack[len(stack)-1]))}
	}
	return &core.SyntaxResult{Valid: true}
}

// skipQuoted advances past a quoted region opened at i, honoring doubled-
// quote escapes. Returns the index after the closing quote.
func skipQuoted(s string, i int, quote byte) (next int, ok bool) {
	i++
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return i, false
}

func skipToLineEnd(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

func opener(closer byte) byte {
	switch closer {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}
