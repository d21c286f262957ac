// Package heuristic provides a rule-based diagnoser that recognizes common
// evaluation failure patterns locally, without calling out to a model.
package heuristic

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tabwright-labs/tabwright/pkg/core"
	"github.com/tabwright-labs/tabwright/pkg/diagnose"
)

// Confidence levels assigned by the built-in rules. Fixes above 0.5 are
// applied by the healing loop; refusals below it make the loop give up.
const (
	ConfidenceDivideFix = 0.8
	ConfidenceBlankFix  = 0.6
	ConfidenceRefusal   = 0.2
	ConfidenceCircular  = 0.1
)

// Diagnoser implements diagnose.Diagnoser with pattern rules.
type Diagnoser struct {
	logger *slog.Logger
}

// New creates a new heuristic diagnoser instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Diagnoser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Diagnoser{logger: logger}
}

// Configure is a no-op; the heuristic diagnoser has no settings.
func (d *Diagnoser) Configure(_ core.DiagnoserConfig) error { return nil }

// Close is a no-op.
func (d *Diagnoser) Close() error { return nil }

// Diagnose matches the failure text against the built-in rules, most
// specific first.
func (d *Diagnoser) Diagnose(ctx context.Context, failure diagnose.Failure) (*core.DiagnosisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ToLower(strings.Join(failure.Messages(), "\n"))

	switch {
	case divisionFailure(text):
		return d.divideByZero(failure), nil
	case strings.Contains(text, "circular dependency") || strings.Contains(text, "circular reference"):
		return &core.DiagnosisRecord{
			RootCause:  "circular dependency between measures",
			Confidence: ConfidenceCircular,
		}, nil
	case columnNotFound(text):
		return d.missingColumn(failure), nil
	case blankFailure(text):
		return d.blankResult(failure), nil
	}
	return nil, &core.DiagnosisInconclusiveError{RootCause: "no known failure pattern"}
}

// divisionFailure matches the phrasings evaluators use for a zero divisor,
// including the bare "... / 0" form some engines echo back.
func divisionFailure(text string) bool {
	return strings.Contains(text, "divide by zero") ||
		strings.Contains(text, "division by zero") ||
		strings.Contains(text, "divided by zero") ||
		strings.Contains(text, "/ 0")
}

// blankFailure matches empty-result symptoms. NULL and BLANK are the same
// condition seen through different evaluators.
func blankFailure(text string) bool {
	return strings.Contains(text, "no rows") ||
		strings.Contains(text, "blank") ||
		strings.Contains(text, "null")
}

func columnNotFound(text string) bool {
	if !strings.Contains(text, "column") {
		return false
	}
	return strings.Contains(text, "cannot find") ||
		strings.Contains(text, "cannot be found") ||
		strings.Contains(text, "not found") ||
		strings.Contains(text, "does not exist")
}

var quotedNameRe = regexp.MustCompile(`'([^']+)'`)

func (d *Diagnoser) missingColumn(failure diagnose.Failure) *core.DiagnosisRecord {
	cause := "referenced column does not exist"
	for _, msg := range failure.Messages() {
		if m := quotedNameRe.FindStringSubmatch(msg); m != nil {
			cause = fmt.Sprintf("referenced column %q does not exist", m[1])
			break
		}
	}
	// A missing column cannot be repaired by rewriting the expression.
	return &core.DiagnosisRecord{RootCause: cause, Confidence: ConfidenceRefusal}
}

func (d *Diagnoser) divideByZero(failure diagnose.Failure) *core.DiagnosisRecord {
	if fixed, ok := rewriteDivision(failure.Expression); ok {
		return &core.DiagnosisRecord{
			RootCause:           "division by zero in expression",
			CorrectedExpression: fixed,
			Confidence:          ConfidenceDivideFix,
		}
	}
	return &core.DiagnosisRecord{
		RootCause:  "division by zero in expression",
		Confidence: ConfidenceRefusal,
	}
}

func (d *Diagnoser) blankResult(failure diagnose.Failure) *core.DiagnosisRecord {
	cause := "expression evaluates to blank"
	expr := strings.TrimSpace(failure.Expression)
	upper := strings.ToUpper(expr)

	// VAR blocks cannot be wrapped as a whole, and wrapping an expression
	// that is already coalesced would repeat a fix that did not work.
	if expr == "" || strings.HasPrefix(upper, "VAR ") || strings.HasPrefix(upper, "COALESCE(") {
		return &core.DiagnosisRecord{RootCause: cause, Confidence: ConfidenceRefusal}
	}
	return &core.DiagnosisRecord{
		RootCause:           cause,
		CorrectedExpression: fmt.Sprintf("COALESCE(%s, 0)", expr),
		Confidence:          ConfidenceBlankFix,
	}
}

// rewriteDivision converts a single top-level division into a safe DIVIDE
// call, or adds the alternate-result argument to a bare two-argument DIVIDE.
// Expressions with several top-level divisions are ambiguous and refused.
func rewriteDivision(expr string) (string, bool) {
	slashes := topLevelSlashes(expr)
	switch len(slashes) {
	case 0:
		return addDivideDefault(expr)
	case 1:
		num := strings.TrimSpace(expr[:slashes[0]])
		den := strings.TrimSpace(expr[slashes[0]+1:])
		if num == "" || den == "" {
			return "", false
		}
		return fmt.Sprintf("DIVIDE(%s, %s, 0)", num, den), true
	default:
		return "", false
	}
}

// addDivideDefault appends ", 0" to an expression that is exactly one
// two-argument DIVIDE call.
func addDivideDefault(expr string) (string, bool) {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "DIVIDE(") {
		return "", false
	}
	open := strings.IndexByte(trimmed, '(')
	end := matchingParen(trimmed, open)
	if end != len(trimmed)-1 {
		return "", false
	}
	if topLevelCommas(trimmed[open+1:end]) != 1 {
		return "", false
	}
	return trimmed[:end] + ", 0" + trimmed[end:], true
}

// topLevelSlashes returns the offsets of '/' operators outside any nesting,
// string literal, quoted name, or comment.
func topLevelSlashes(expr string) []int {
	var out []int
	depth := 0
	i, n := 0, len(expr)
	for i < n {
		c := expr[i]
		switch {
		case c == '"':
			i = skipQuoted(expr, i, '"')
		case c == '\'':
			i = skipQuoted(expr, i, '\'')
		case c == '/' && i+1 < n && expr[i+1] == '/':
			i = skipToLineEnd(expr, i)
		case c == '-' && i+1 < n && expr[i+1] == '-':
			i = skipToLineEnd(expr, i)
		case c == '/' && i+1 < n && expr[i+1] == '*':
			end := strings.Index(expr[i+2:], "*/")
			if end < 0 {
				return out
			}
			i += end + 4
		case c == '(' || c == '[' || c == '{':
			depth++
			i++
		case c == ')' || c == ']' || c == '}':
			depth--
			i++
		case c == '/' && depth == 0:
			out = append(out, i)
			i++
		default:
			i++
		}
	}
	return out
}

func topLevelCommas(s string) int {
	count := 0
	depth := 0
	i, n := 0, len(s)
	for i < n {
		c := s[i]
		switch {
		case c == '"':
			i = skipQuoted(s, i, '"')
		case c == '\'':
			i = skipQuoted(s, i, '\'')
		case c == '(' || c == '[' || c == '{':
			depth++
			i++
		case c == ')' || c == ']' || c == '}':
			depth--
			i++
		case c == ',' && depth == 0:
			count++
			i++
		default:
			i++
		}
	}
	return count
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		case '"':
			i = skipQuoted(s, i, '"') - 1
		case '\'':
			i = skipQuoted(s, i, '\'') - 1
		}
	}
	return -1
}

func skipQuoted(s string, i int, quote byte) int {
	i++
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipToLineEnd(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

// Ensure Diagnoser implements diagnose.Diagnoser interface
var _ diagnose.Diagnoser = (*Diagnoser)(nil)
