package connector

import (
	"context"
	"log/slog"
	"sort"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// EntrypointResolver holds the entrypoint connectors of a deployed API, most
// specific first. The list is immutable once built.
type EntrypointResolver struct {
	connectors []EntrypointConnector
	logger     *slog.Logger
}

// NewEntrypointResolver builds a connector for every entrypoint of every
// listener of the API. Entrypoints without factory, with an invalid
// configuration or for another API type are logged and skipped.
func NewEntrypointResolver(dc DeploymentContext, registry *Registry) *EntrypointResolver {
	logger := dc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := dc.Api

	var connectors []EntrypointConnector
	for _, listener := range api.Listeners {
		for _, ep := range listener.Entrypoints {
			factory, ok := registry.Entrypoint(ep.Type)
			if !ok {
				logger.Warn("no entrypoint connector registered, skipping", "api_id", api.ID, "type", ep.Type)
				continue
			}
			qos := ep.Qos
			if api.Type == domain.ApiTypeMessage && qos == "" {
				qos = domain.QosAuto
			}
			conn, err := factory.CreateConnector(dc, ep.Configuration, qos)
			if err != nil || conn == nil {
				logger.Warn("entrypoint connector not created, skipping",
					"api_id", api.ID,
					"type", ep.Type,
					"error", err,
				)
				continue
			}
			if conn.SupportedApi() != api.Type || conn.SupportedListenerType() != listener.Type {
				logger.Warn("entrypoint connector does not support the api, skipping",
					"api_id", api.ID,
					"type", ep.Type,
					"api_type", string(api.Type),
					"listener_type", string(listener.Type),
				)
				continue
			}
			connectors = append(connectors, conn)
		}
	}
	return NewEntrypointResolverFrom(connectors, logger)
}

// NewEntrypointResolverFrom wraps already built connectors.
func NewEntrypointResolverFrom(connectors []EntrypointConnector, logger *slog.Logger) *EntrypointResolver {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]EntrypointConnector(nil), connectors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MatchCriteriaCount() > sorted[j].MatchCriteriaCount()
	})
	return &EntrypointResolver{connectors: sorted, logger: logger}
}

// Connectors returns the connectors in resolution order.
func (r *EntrypointResolver) Connectors() []EntrypointConnector {
	return append([]EntrypointConnector(nil), r.connectors...)
}

// Resolve returns the first connector serving the listener type of the call
// whose Matches holds, or nil.
func (r *EntrypointResolver) Resolve(ec *execution.Context) EntrypointConnector {
	listenerType, _ := ec.InternalAttribute(execution.InternalListenerType).(domain.ListenerType)
	for _, c := range r.connectors {
		if c.SupportedListenerType() == listenerType && c.Matches(ec) {
			return c
		}
	}
	return nil
}

// PreStop pre-stops every connector; failures are logged.
func (r *EntrypointResolver) PreStop(ctx context.Context) {
	for _, c := range r.connectors {
		if err := c.PreStop(ctx); err != nil {
			r.logger.Warn("entrypoint connector pre-stop failed", "connector", c.ID(), "error", err)
		}
	}
}

// Stop stops every connector; failures are logged.
func (r *EntrypointResolver) Stop(ctx context.Context) {
	for _, c := range r.connectors {
		if err := c.Stop(ctx); err != nil {
			r.logger.Warn("entrypoint connector stop failed", "connector", c.ID(), "error", err)
		}
	}
}
