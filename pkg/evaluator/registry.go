package evaluator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Evaluator)
)

// Register adds an evaluator factory to the registry.
// Called by evaluator implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Evaluator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves an evaluator factory by name.
func Get(name string) (func(*slog.Logger) Evaluator, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// NewEvaluator creates a new evaluator instance based on config type.
// The logger parameter is passed to the constructor (nil uses discard logger).
func NewEvaluator(cfg core.EvaluatorConfig, logger *slog.Logger) (Evaluator, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("evaluator type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownEvaluatorError{
			Type:      cfg.Type,
			Available: ListEvaluators(),
		}
	}
	return factory(logger), nil
}

// ListEvaluators returns all registered evaluator names (sorted).
func ListEvaluators() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an evaluator type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownEvaluatorError is returned when an unknown evaluator type is requested.
type UnknownEvaluatorError struct {
	Type      string
	Available []string
}

func (e *UnknownEvaluatorError) Error() string {
	return fmt.Sprintf("unknown evaluator type %q\nAvailable evaluators: %v\nHint: Check your evaluator.type in tabwright.yaml", e.Type, e.Available)
}
