// Package builtin provides the connectors shipped with the gateway.
//
// Entrypoints:
//
//	http-proxy  proxy APIs, matches every HTTP call
//	http-get    message APIs, GET returns a JSON page of messages
//	http-post   message APIs, POST publishes the body as one message
//	sse         message APIs, GET with Accept: text/event-stream streams messages
//
// Endpoints:
//
//	http-proxy  forwards the call to an HTTP backend
//	mock        answers with a static response or generated messages
//	nats        publishes to and subscribes from a NATS subject
package builtin

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/connector"
)

// Register adds every built-in connector to r.
func Register(r *connector.Registry) {
	r.RegisterEntrypoint(HTTPProxyID, connector.EntrypointFactoryFunc(NewHTTPProxyEntrypoint), "proxy")
	r.RegisterEntrypoint(HTTPGetID, connector.EntrypointFactoryFunc(NewHTTPGetEntrypoint))
	r.RegisterEntrypoint(HTTPPostID, connector.EntrypointFactoryFunc(NewHTTPPostEntrypoint))
	r.RegisterEntrypoint(SSEID, connector.EntrypointFactoryFunc(NewSSEEntrypoint))

	r.RegisterEndpoint(HTTPProxyID, connector.EndpointFactoryFunc(NewHTTPProxyEndpoint), "http")
	r.RegisterEndpoint(MockID, connector.EndpointFactoryFunc(NewMockEndpoint))
	r.RegisterEndpoint(NATSID, connector.EndpointFactoryFunc(NewNATSEndpoint))
}

// Connector ids.
const (
	HTTPProxyID = "http-proxy"
	HTTPGetID   = "http-get"
	HTTPPostID  = "http-post"
	SSEID       = "sse"
	MockID      = "mock"
	NATSID      = "nats"
)

type noopLifecycle struct{}

func (noopLifecycle) PreStop(context.Context) error { return nil }
func (noopLifecycle) Stop(context.Context) error    { return nil }
