// Package models - registry for model builders.
package models

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/ssd-detector/models/model"
)

var (
	// ErrUnknownModule is returned when no builder is registered under a module.
	ErrUnknownModule = errors.New("unknown model builder module")
	// ErrUnknownFunction is returned when a module has no builder with the
	// requested function name.
	ErrUnknownFunction = errors.New("unknown model builder function")
)

// Registry maps (module, function) identifiers to model builders.
//
// Builders are registered at startup and looked up by the names given in the
// detector configuration. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]model.Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]map[string]model.Builder)}
}

// Register adds a builder under module and function.
//
// Arguments:
//   - module: The module name, e.g. "ssd".
//   - function: The function name within the module, e.g. "ssd300".
//   - builder: The builder.
//
// Returns:
//   - error: An error if a name is empty, the builder is nil, or the pair is
//     already registered.
func (r *Registry) Register(module, function string, builder model.Builder) error {
	if module == "" || function == "" {
		return errors.New("module and function names are required")
	}
	if builder == nil {
		return errors.Errorf("builder %s.%s is nil", module, function)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	functions, ok := r.modules[module]
	if !ok {
		functions = make(map[string]model.Builder)
		r.modules[module] = functions
	}
	if _, exists := functions[function]; exists {
		return errors.Errorf("builder %s.%s already registered", module, function)
	}
	functions[function] = builder

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(module, function string, builder model.Builder) {
	if err := r.Register(module, function, builder); err != nil {
		panic(err)
	}
}

// Lookup returns the builder registered under module and function.
//
// Returns:
//   - model.Builder: The builder.
//   - error: ErrUnknownModule or ErrUnknownFunction (wrapped with the names).
func (r *Registry) Lookup(module, function string) (model.Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	functions, ok := r.modules[module]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModule, "module %q", module)
	}
	builder, ok := functions[function]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFunction, "module %q has no function %q", module, function)
	}

	return builder, nil
}

// Modules returns the registered module names in sorted order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Functions returns the function names registered under module in sorted order.
func (r *Registry) Functions(module string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules[module]))
	for name := range r.modules[module] {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by configurators that are
// not given one explicitly.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a builder to the default registry.
func Register(module, function string, builder model.Builder) error {
	return defaultRegistry.Register(module, function, builder)
}
