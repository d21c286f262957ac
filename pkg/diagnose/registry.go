package diagnose

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tabwright-labs/tabwright/pkg/core"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Diagnoser)
)

// Register adds a diagnoser factory to the registry.
// Called by diagnoser implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Diagnoser) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a diagnoser factory by name.
func Get(name string) (func(*slog.Logger) Diagnoser, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// NewDiagnoser creates a new diagnoser instance based on config type.
// The logger parameter is passed to the constructor (nil uses discard logger).
func NewDiagnoser(cfg core.DiagnoserConfig, logger *slog.Logger) (Diagnoser, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("diagnoser type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownDiagnoserError{
			Type:      cfg.Type,
			Available: ListDiagnosers(),
		}
	}
	return factory(logger), nil
}

// ListDiagnosers returns all registered diagnoser names (sorted).
func ListDiagnosers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a diagnoser type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownDiagnoserError is returned when an unknown diagnoser type is requested.
type UnknownDiagnoserError struct {
	Type      string
	Available []string
}

func (e *UnknownDiagnoserError) Error() string {
	return fmt.Sprintf("unknown diagnoser type %q\nAvailable diagnosers: %v\nHint: Check your diagnoser.type in tabwright.yaml", e.Type, e.Available)
}
