// This file registers the HTTP evaluator with the evaluator registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/tabwright-labs/tabwright/pkg/evaluators/http"
package http

import (
	"log/slog"

	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

func init() {
	evaluator.Register("http", func(logger *slog.Logger) evaluator.Evaluator { return New(logger) })
}
