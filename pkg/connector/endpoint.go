package connector

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/polisai/polis-gateway/pkg/execution"
)

type managedEndpoint struct {
	name      string
	connector EndpointConnector
}

type endpointGroup struct {
	name      string
	primary   []managedEndpoint
	secondary []managedEndpoint
	rotation  []int
	next      atomic.Uint64
}

// pick returns the next primary endpoint in weighted round robin, falling
// back to secondary endpoints when the group has no primary one.
func (g *endpointGroup) pick() (EndpointConnector, bool) {
	if len(g.rotation) > 0 {
		n := g.next.Add(1) - 1
		return g.primary[g.rotation[n%uint64(len(g.rotation))]].connector, true
	}
	if len(g.secondary) > 0 {
		return g.secondary[0].connector, true
	}
	return nil, false
}

// EndpointResolver holds the endpoint connectors of a deployed API grouped as
// declared.
type EndpointResolver struct {
	groups []*endpointGroup
	logger *slog.Logger
}

// NewEndpointResolver builds the endpoint connectors of every group. An
// endpoint without type inherits the type of its group. Endpoints that cannot
// be created are logged and skipped.
func NewEndpointResolver(dc DeploymentContext, registry *Registry) *EndpointResolver {
	logger := dc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &EndpointResolver{logger: logger}
	for _, group := range dc.Api.EndpointGroups {
		g := &endpointGroup{name: group.Name}
		for _, ep := range group.Endpoints {
			kind := ep.Type
			if kind == "" {
				kind = group.Type
			}
			factory, ok := registry.Endpoint(kind)
			if !ok {
				logger.Warn("no endpoint connector registered, skipping", "api_id", dc.Api.ID, "endpoint", ep.Name, "type", kind)
				continue
			}
			conn, err := factory.CreateConnector(dc, ep, group.SharedConfiguration)
			if err != nil || conn == nil {
				logger.Warn("endpoint connector not created, skipping", "api_id", dc.Api.ID, "endpoint", ep.Name, "type", kind, "error", err)
				continue
			}
			managed := managedEndpoint{name: ep.Name, connector: conn}
			if ep.Secondary {
				g.secondary = append(g.secondary, managed)
				continue
			}
			weight := ep.Weight
			if weight <= 0 {
				weight = 1
			}
			for i := 0; i < weight; i++ {
				g.rotation = append(g.rotation, len(g.primary))
			}
			g.primary = append(g.primary, managed)
		}
		r.groups = append(r.groups, g)
	}
	return r
}

// Resolve picks the endpoint of the call. The gateway.request.endpoint
// attribute may target a group or an endpoint by name; otherwise the first
// group serves the call.
func (r *EndpointResolver) Resolve(ec *execution.Context) (EndpointConnector, bool) {
	target, _ := ec.Attribute(execution.AttrRequestEndpoint).(string)
	if target == "" {
		for _, g := range r.groups {
			if conn, ok := g.pick(); ok {
				return conn, true
			}
		}
		return nil, false
	}

	for _, g := range r.groups {
		if g.name == target {
			return g.pick()
		}
	}
	for _, g := range r.groups {
		for _, list := range [][]managedEndpoint{g.primary, g.secondary} {
			for _, ep := range list {
				if ep.name == target {
					return ep.connector, true
				}
			}
		}
	}
	return nil, false
}

// Count returns the number of built endpoint connectors.
func (r *EndpointResolver) Count() int {
	n := 0
	for _, g := range r.groups {
		n += len(g.primary) + len(g.secondary)
	}
	return n
}

// PreStop pre-stops every endpoint; failures are logged.
func (r *EndpointResolver) PreStop(ctx context.Context) {
	r.each(func(ep managedEndpoint) {
		if err := ep.connector.PreStop(ctx); err != nil {
			r.logger.Warn("endpoint connector pre-stop failed", "endpoint", ep.name, "error", err)
		}
	})
}

// Stop stops every endpoint; failures are logged.
func (r *EndpointResolver) Stop(ctx context.Context) {
	r.each(func(ep managedEndpoint) {
		if err := ep.connector.Stop(ctx); err != nil {
			r.logger.Warn("endpoint connector stop failed", "endpoint", ep.name, "error", err)
		}
	})
}

func (r *EndpointResolver) each(fn func(managedEndpoint)) {
	for _, g := range r.groups {
		for _, ep := range g.primary {
			fn(ep)
		}
		for _, ep := range g.secondary {
			fn(ep)
		}
	}
}
