package connector

import (
	"github.com/polisai/polis-gateway/internal/plugin"
)

// Registry maps connector plugin ids to factories.
type Registry struct {
	entrypoints *plugin.Registry[EntrypointFactory]
	endpoints   *plugin.Registry[EndpointFactory]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entrypoints: plugin.NewRegistry[EntrypointFactory](),
		endpoints:   plugin.NewRegistry[EndpointFactory](),
	}
}

// RegisterEntrypoint adds an entrypoint factory.
func (r *Registry) RegisterEntrypoint(kind string, factory EntrypointFactory, aliases ...string) {
	r.entrypoints.Register(kind, "", factory, aliases...)
}

// RegisterEndpoint adds an endpoint factory.
func (r *Registry) RegisterEndpoint(kind string, factory EndpointFactory, aliases ...string) {
	r.endpoints.Register(kind, "", factory, aliases...)
}

// Entrypoint returns the entrypoint factory registered for id.
func (r *Registry) Entrypoint(id string) (EntrypointFactory, bool) {
	f, _, ok := r.entrypoints.Resolve(id)
	return f, ok
}

// Endpoint returns the endpoint factory registered for id.
func (r *Registry) Endpoint(id string) (EndpointFactory, bool) {
	f, _, ok := r.endpoints.Resolve(id)
	return f, ok
}
