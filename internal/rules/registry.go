package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// Factory constructs a rule of one kind from its spec, bound to env.
type Factory func(spec Spec, env *Env) (Rule, error)

// Registry maps rule kinds to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry returns a registry with the built-in rule kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindCopyFiles, NewCopyFilesRule)
	r.MustRegister(KindSetupCommands, NewSetupCommandsRule)
	r.MustRegister(KindTemplate, NewTemplateRule)
	return r
}

// Register installs a factory. Returns an error if the kind already exists.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("rules: kind is required")
	}
	if factory == nil {
		return fmt.Errorf("rules: factory is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("rules: %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Build constructs the rule described by spec. An unregistered kind yields
// a *errors.ValidationError wrapping errors.ErrUnknownRuleKind.
func (r *Registry) Build(spec Spec, env *Env) (Rule, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown rule kind '%s'", spec.Kind)).
			WithRule(spec.Name).
			WithField("kind").
			WithCause(errors.ErrUnknownRuleKind)
	}

	rule, err := factory(spec, env)
	if err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, errors.NewValidationError("failed to construct rule").WithRule(spec.Name).WithCause(err)
	}
	return rule, nil
}

// Kinds returns the sorted registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}
