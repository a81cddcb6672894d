package builtin

import (
	"context"
	"fmt"

	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// HTTPProxyEntrypoint serves proxy APIs. It is the least specific entrypoint
// and accepts every HTTP call.
type HTTPProxyEntrypoint struct {
	noopLifecycle
}

// NewHTTPProxyEntrypoint is the http-proxy entrypoint factory.
func NewHTTPProxyEntrypoint(connector.DeploymentContext, map[string]any, domain.Qos) (connector.EntrypointConnector, error) {
	return &HTTPProxyEntrypoint{}, nil
}

func (e *HTTPProxyEntrypoint) ID() string                                 { return HTTPProxyID }
func (e *HTTPProxyEntrypoint) SupportedApi() domain.ApiType               { return domain.ApiTypeProxy }
func (e *HTTPProxyEntrypoint) SupportedListenerType() domain.ListenerType { return domain.ListenerHTTP }
func (e *HTTPProxyEntrypoint) SupportedQos() []domain.Qos                 { return nil }
func (e *HTTPProxyEntrypoint) MatchCriteriaCount() int                    { return 0 }
func (e *HTTPProxyEntrypoint) Matches(*execution.Context) bool            { return true }

// HandleRequest has nothing to adapt: the request is forwarded as received.
func (e *HTTPProxyEntrypoint) HandleRequest(ctx context.Context, ec *execution.Context) error {
	return nil
}

// HandleResponse has nothing to adapt: the response is relayed as produced.
func (e *HTTPProxyEntrypoint) HandleResponse(ctx context.Context, ec *execution.Context) error {
	return nil
}

// messageEntrypoint holds what the message entrypoints share.
type messageEntrypoint struct {
	noopLifecycle
	id  string
	qos domain.Qos
}

func newMessageEntrypoint(id string, qos domain.Qos, supported []domain.Qos) (messageEntrypoint, error) {
	if qos == "" {
		qos = domain.QosAuto
	}
	if !connector.SupportsQos(supported, qos) {
		return messageEntrypoint{}, fmt.Errorf("%w: %s does not support %q", connector.ErrUnsupportedQos, id, qos)
	}
	return messageEntrypoint{id: id, qos: qos}, nil
}

func (e *messageEntrypoint) ID() string                                 { return e.id }
func (e *messageEntrypoint) SupportedApi() domain.ApiType               { return domain.ApiTypeMessage }
func (e *messageEntrypoint) SupportedListenerType() domain.ListenerType { return domain.ListenerHTTP }

// Qos returns the delivery guarantee the entrypoint was deployed with.
func (e *messageEntrypoint) Qos() domain.Qos { return e.qos }

func isMethod(ec *execution.Context, method string) bool {
	return ec.Request().Method == method
}

func setOperation(ec *execution.Context, op execution.MessageOperation) {
	ec.SetInternalAttribute(execution.InternalMessagesOp, op)
}
