// This file registers the mock evaluator with the evaluator registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/tabwright-labs/tabwright/pkg/evaluators/mock"
package mock

import (
	"log/slog"

	"github.com/tabwright-labs/tabwright/pkg/evaluator"
)

func init() {
	evaluator.Register("mock", func(logger *slog.Logger) evaluator.Evaluator { return New(logger) })
}
