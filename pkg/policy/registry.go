package policy

import (
	"fmt"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/domain"
)

// Registry maps policy plugin ids to factories.
type Registry struct {
	factories *plugin.Registry[Factory]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: plugin.NewRegistry[Factory]()}
}

// Register adds a factory for kind@version.
func (r *Registry) Register(kind, version string, factory Factory, aliases ...string) {
	r.factories.Register(kind, version, factory, aliases...)
}

// RegisterFunc adds a factory function for kind@version.
func (r *Registry) RegisterFunc(kind, version string, fn func(Metadata) (Policy, error), aliases ...string) {
	r.Register(kind, version, FactoryFunc(fn), aliases...)
}

// Has reports whether a factory is registered for id.
func (r *Registry) Has(id string) bool {
	_, _, ok := r.factories.Resolve(id)
	return ok
}

// Kinds lists the registered plugin ids.
func (r *Registry) Kinds() []string {
	return r.factories.Kinds()
}

// Create instantiates the policy described by meta.
func (r *Registry) Create(meta Metadata) (Policy, error) {
	factory, _, ok := r.factories.Resolve(meta.Policy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrPolicyNotFound, meta.Policy)
	}
	p, err := factory.Create(meta)
	if err != nil {
		return nil, fmt.Errorf("create policy %q: %w", meta.ID(), err)
	}
	return p, nil
}
