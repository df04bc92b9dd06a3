// Package registry maps step names to the factories that create them.
//
// A Registry is built once at startup and never changes afterwards, so it is
// safe to share between concurrently building pipelines without locking.
//
//	reg, err := registry.New(
//	    registry.Factory{Name: "audit", Create: func() ports.Step { return &AuditStep{} }},
//	    registry.Factory{Name: "enrich", Create: func() ports.Step { return &EnrichStep{} }},
//	)
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nicofx/widu-factory/internal/core/ports"
)

var (
	// ErrUnknownStep is wrapped by RegistrationError.
	ErrUnknownStep = errors.New("step not registered")
	// ErrDuplicateStep is returned by New when two factories share a name.
	ErrDuplicateStep = errors.New("step already registered")
)

// Factory describes how to create a step instance.
type Factory struct {
	// Name is the identifier used in pipeline configuration.
	Name string
	// Description is a human-readable summary of the step.
	Description string
	// Create returns a fresh step instance. It is called once per request
	// for every configured element.
	Create func() ports.Step
}

// Registry is an immutable name -> factory table.
type Registry struct {
	factories map[string]Factory
	names     []string
}

// New builds a registry from factories.
func New(factories ...Factory) (*Registry, error) {
	r := &Registry{
		factories: make(map[string]Factory, len(factories)),
		names:     make([]string, 0, len(factories)),
	}
	for _, f := range factories {
		if f.Name == "" {
			return nil, fmt.Errorf("step factory name cannot be empty")
		}
		if f.Create == nil {
			return nil, fmt.Errorf("step factory %q must have a Create function", f.Name)
		}
		if _, exists := r.factories[f.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, f.Name)
		}
		r.factories[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// MustNew is like New but panics on error. Intended for static tables.
func MustNew(factories ...Factory) *Registry {
	r, err := New(factories...)
	if err != nil {
		panic(err)
	}
	return r
}

// Create instantiates the step registered under name.
// Unknown names return a *RegistrationError.
func (r *Registry) Create(name string) (ports.Step, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &RegistrationError{Name: name}
	}
	step := f.Create()
	if step == nil {
		return nil, &RegistrationError{Name: name, Reason: "factory returned nil"}
	}
	return step, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered step names sorted alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Factories returns the registered factories sorted by name.
func (r *Registry) Factories() []Factory {
	out := make([]Factory, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.factories[n])
	}
	return out
}

// RegistrationError reports a pipeline element naming an unusable step.
type RegistrationError struct {
	Name   string
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("step %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("%s: %q", ErrUnknownStep, e.Name)
}

func (e *RegistrationError) Unwrap() error {
	return ErrUnknownStep
}

// IsRegistrationError returns true if err is or wraps a RegistrationError.
func IsRegistrationError(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re)
}
