package jobsystem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a Job of one kind. base already carries the ID, type name,
// channel mask and dependencies; the factory embeds it and decodes the
// kind-specific fields of input.
type Factory func(base *Base, input json.RawMessage) (Job, error)

// Registry maps job type names to factories. Jobs may create successors
// from worker goroutines, so lookups are guarded.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "type-registry"),
	}
}

// Register installs f under name. Registering an existing name is refused
// and leaves the original factory in place.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register job type %q: name and factory are required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		r.logger.Warn("job type already registered", "type", name)
		return fmt.Errorf("register job type %q: %w", name, ErrTypeRegistered)
	}
	r.factories[name] = f
	r.logger.Debug("job type registered", "type", name)
	return nil
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
