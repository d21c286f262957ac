package openai

import (
	"log/slog"

	"github.com/tabwright-labs/tabwright/pkg/diagnose"
)

// init registers the openai diagnoser with the diagnoser registry.
// This allows the diagnoser to be used by importing this package:
//
//	import _ "github.com/tabwright-labs/tabwright/pkg/diagnosers/openai"
func init() {
	diagnose.Register("openai", func(logger *slog.Logger) diagnose.Diagnoser {
		return New(logger)
	})
}
