package builtin

import (
	"context"
	"net/http"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

type httpPostConfig struct {
	RequestHeadersToMessage bool `yaml:"requestHeadersToMessage"`
}

// HTTPPostEntrypoint turns the body of a POST into one message published to
// the endpoint and answers 202 Accepted.
type HTTPPostEntrypoint struct {
	messageEntrypoint
	cfg httpPostConfig
}

// NewHTTPPostEntrypoint is the http-post entrypoint factory.
func NewHTTPPostEntrypoint(_ connector.DeploymentContext, raw map[string]any, qos domain.Qos) (connector.EntrypointConnector, error) {
	var cfg httpPostConfig
	if err := plugin.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	base, err := newMessageEntrypoint(HTTPPostID, qos, []domain.Qos{domain.QosAuto, domain.QosNone})
	if err != nil {
		return nil, err
	}
	return &HTTPPostEntrypoint{messageEntrypoint: base, cfg: cfg}, nil
}

func (e *HTTPPostEntrypoint) SupportedQos() []domain.Qos {
	return []domain.Qos{domain.QosAuto, domain.QosNone}
}

func (e *HTTPPostEntrypoint) MatchCriteriaCount() int { return 1 }

func (e *HTTPPostEntrypoint) Matches(ec *execution.Context) bool {
	return isMethod(ec, http.MethodPost)
}

func (e *HTTPPostEntrypoint) HandleRequest(_ context.Context, ec *execution.Context) error {
	setOperation(ec, execution.OperationPublish)

	req := ec.Request()
	content, err := req.Body().Buffer()
	if err != nil {
		return err
	}
	msg := execution.NewMessage(content)
	if e.cfg.RequestHeadersToMessage {
		for k, v := range req.Headers {
			msg.Headers[k] = append([]string(nil), v...)
		}
	}

	source := make(chan *execution.Message, 1)
	source <- msg
	close(source)
	req.Messages().SetSource(source)
	return nil
}

func (e *HTTPPostEntrypoint) HandleResponse(_ context.Context, ec *execution.Context) error {
	resp := ec.Response()
	if resp.Status == http.StatusOK {
		resp.Status = http.StatusAccepted
	}
	return nil
}
