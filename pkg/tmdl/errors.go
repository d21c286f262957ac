package tmdl

import "fmt"

// ParseError represents a document-level parsing failure with position info.
type ParseError struct {
	Path    string
	Line    int // 1-based
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
}
