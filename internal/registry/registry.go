// Package registry maps implementation names to unit factories. Units become
// available either through explicit registration (built-ins register
// themselves in init, in the manner of database/sql drivers) or through
// plugin discovery against a directory named by the stage that needs them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

var (
	// ErrNotFound means no factory is registered under the requested name,
	// after any discovery the reference allowed.
	ErrNotFound = errors.New("unit implementation not found")

	// ErrTypeMismatch means a factory produced a unit that does not satisfy
	// the capability the stage requires.
	ErrTypeMismatch = errors.New("unit capability mismatch")
)

// Factory constructs a unit instance. name is the stage-local instance name;
// cfg is the stage's open config map. The returned value must implement
// unit.Processor or unit.PostProcessor depending on the slot it is resolved
// for.
type Factory func(name string, cfg spec.Config) (any, error)

// Registry is a concurrency-safe name-to-factory table with one-shot
// directory discovery.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	scanned   map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		logger:    slog.Default(),
		factories: make(map[string]Factory),
		scanned:   make(map[string]struct{}),
	}
}

// WithLogger overrides the registry's logger. Chainable.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Register adds a factory under name. Registering the same name again
// replaces the previous factory; last write wins. Empty names and nil
// factories are programmer errors and panic.
func (r *Registry) Register(name string, f Factory) {
	if name == "" {
		panic("registry: Register with empty name")
	}
	if f == nil {
		panic("registry: Register with nil factory for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		r.logger.Debug("replacing unit registration", "unit", name)
	}
	r.factories[name] = f
}

// Registered reports whether a factory exists under name.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// lookup resolves a reference to a factory, running discovery against the
// reference's location when the name is not yet registered.
func (r *Registry) lookup(ref spec.ImplementationRef) (Factory, error) {
	if f, ok := r.factory(ref.Name); ok {
		return f, nil
	}
	if ref.Location != "" {
		if err := r.Discover(ref.Location); err != nil {
			return nil, fmt.Errorf("discover units in %s: %w", ref.Location, err)
		}
		if f, ok := r.factory(ref.Name); ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// ResolveProcessor looks up and constructs the processor a stage declares.
func (r *Registry) ResolveProcessor(ps spec.ProcessorSpec) (unit.Processor, error) {
	f, err := r.lookup(ps.Impl)
	if err != nil {
		return nil, err
	}
	u, err := f(ps.Name, ps.Config)
	if err != nil {
		return nil, fmt.Errorf("construct processor %q: %w", ps.Name, err)
	}
	p, ok := u.(unit.Processor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a processor", ErrTypeMismatch, ps.Impl)
	}
	return p, nil
}

// ResolvePostProcessor looks up and constructs the postprocessor a stage
// declares.
func (r *Registry) ResolvePostProcessor(ps spec.PostProcessorSpec) (unit.PostProcessor, error) {
	f, err := r.lookup(ps.Impl)
	if err != nil {
		return nil, err
	}
	u, err := f(ps.Name, ps.Config)
	if err != nil {
		return nil, fmt.Errorf("construct postprocessor %q: %w", ps.Name, err)
	}
	pp, ok := u.(unit.PostProcessor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a postprocessor", ErrTypeMismatch, ps.Impl)
	}
	return pp, nil
}

var defaultRegistry = New()

// Default returns the process-wide registry. Built-in units register
// themselves into it from their init functions.
func Default() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }
