package heuristic

import (
	"log/slog"

	"github.com/tabwright-labs/tabwright/pkg/diagnose"
)

// init registers the heuristic diagnoser with the diagnoser registry.
// This allows the diagnoser to be used by importing this package:
//
//	import _ "github.com/tabwright-labs/tabwright/pkg/diagnosers/heuristic"
func init() {
	diagnose.Register("heuristic", func(logger *slog.Logger) diagnose.Diagnoser {
		return New(logger)
	})
}
