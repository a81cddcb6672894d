// Package connector defines entrypoint and endpoint connectors and resolves,
// per call, which of the connectors built for an API serves it.
package connector

import (
	"context"
	"errors"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// ErrUnsupportedQos is returned by factories for a QoS they cannot honour.
var ErrUnsupportedQos = errors.New("unsupported qos")

// DeploymentContext carries what factories may need from the deployed API.
type DeploymentContext struct {
	Api    *domain.Api
	Logger *slog.Logger
}

// Connector is the lifecycle shared by every connector.
type Connector interface {
	ID() string
	// PreStop stops accepting new work.
	PreStop(ctx context.Context) error
	// Stop releases every resource held by the connector.
	Stop(ctx context.Context) error
}

// EntrypointConnector terminates the client protocol.
type EntrypointConnector interface {
	Connector
	SupportedApi() domain.ApiType
	SupportedListenerType() domain.ListenerType
	SupportedQos() []domain.Qos
	// MatchCriteriaCount is the specificity of Matches; resolution tries the
	// most specific connectors first.
	MatchCriteriaCount() int
	Matches(ec *execution.Context) bool
	HandleRequest(ctx context.Context, ec *execution.Context) error
	HandleResponse(ctx context.Context, ec *execution.Context) error
}

// EndpointConnector talks to the backend.
type EndpointConnector interface {
	Connector
	SupportedApi() domain.ApiType
	// Connect performs the exchange with the backend, filling the response
	// of ec or its message flows.
	Connect(ctx context.Context, ec *execution.Context) error
}

// EntrypointFactory creates entrypoint connectors.
type EntrypointFactory interface {
	CreateConnector(dc DeploymentContext, configuration map[string]any, qos domain.Qos) (EntrypointConnector, error)
}

// EndpointFactory creates endpoint connectors. shared is the configuration
// shared by the endpoints of a group.
type EndpointFactory interface {
	CreateConnector(dc DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (EndpointConnector, error)
}

// EntrypointFactoryFunc adapts a function to EntrypointFactory.
type EntrypointFactoryFunc func(dc DeploymentContext, configuration map[string]any, qos domain.Qos) (EntrypointConnector, error)

// CreateConnector implements EntrypointFactory.
func (f EntrypointFactoryFunc) CreateConnector(dc DeploymentContext, configuration map[string]any, qos domain.Qos) (EntrypointConnector, error) {
	return f(dc, configuration, qos)
}

// EndpointFactoryFunc adapts a function to EndpointFactory.
type EndpointFactoryFunc func(dc DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (EndpointConnector, error)

// CreateConnector implements EndpointFactory.
func (f EndpointFactoryFunc) CreateConnector(dc DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (EndpointConnector, error) {
	return f(dc, endpoint, shared)
}

// SupportsQos reports whether qos is among supported.
func SupportsQos(supported []domain.Qos, qos domain.Qos) bool {
	for _, s := range supported {
		if s == qos {
			return true
		}
	}
	return false
}
