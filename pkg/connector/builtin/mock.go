package builtin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

type mockConfig struct {
	Status          int               `yaml:"status"`
	Headers         map[string]string `yaml:"headers"`
	Body            string            `yaml:"body"`
	MessageContent  string            `yaml:"messageContent"`
	MessageCount    int               `yaml:"messageCount"`
	MessageInterval time.Duration     `yaml:"messageInterval"`
}

// MockEndpoint answers without any backend. Proxy calls receive the
// configured response; subscriptions receive generated messages and
// published messages are acknowledged and counted.
type MockEndpoint struct {
	noopLifecycle
	name      string
	cfg       mockConfig
	published atomic.Int64
}

// NewMockEndpoint is the mock endpoint factory.
func NewMockEndpoint(_ connector.DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (connector.EndpointConnector, error) {
	cfg := mockConfig{Status: http.StatusOK, MessageContent: "mock message"}
	if err := plugin.Decode(plugin.Merge(shared, endpoint.Configuration), &cfg); err != nil {
		return nil, err
	}
	if cfg.Status < 100 || cfg.Status > 599 {
		return nil, fmt.Errorf("%w: mock status %d", plugin.ErrInvalidConfiguration, cfg.Status)
	}
	if cfg.MessageCount < 0 || cfg.MessageInterval < 0 {
		return nil, fmt.Errorf("%w: mock message settings must not be negative", plugin.ErrInvalidConfiguration)
	}
	return &MockEndpoint{name: endpoint.Name, cfg: cfg}, nil
}

func (e *MockEndpoint) ID() string { return MockID + ":" + e.name }

// SupportedApi reports proxy; message calls are recognised by the operation
// set by the entrypoint.
func (e *MockEndpoint) SupportedApi() domain.ApiType { return domain.ApiTypeProxy }

// Published returns the number of messages published so far.
func (e *MockEndpoint) Published() int64 { return e.published.Load() }

func (e *MockEndpoint) Connect(ctx context.Context, ec *execution.Context) error {
	op, _ := ec.InternalAttribute(execution.InternalMessagesOp).(execution.MessageOperation)
	switch op {
	case execution.OperationPublish:
		return ec.Request().Messages().Consume(ctx, func(msg *execution.Message) error {
			e.published.Add(1)
			msg.Ack()
			return nil
		})
	case execution.OperationSubscribe:
		ec.Response().Messages().SetSource(e.generate(ctx))
		return nil
	default:
		resp := ec.Response()
		resp.Status = e.cfg.Status
		for k, v := range e.cfg.Headers {
			resp.Headers.Set(k, v)
		}
		resp.SetBody([]byte(e.cfg.Body))
		return nil
	}
}

// generate produces MessageCount messages, or messages until ctx is done
// when MessageCount is zero.
func (e *MockEndpoint) generate(ctx context.Context) <-chan *execution.Message {
	out := make(chan *execution.Message)
	go func() {
		defer close(out)
		var tick <-chan time.Time
		if e.cfg.MessageInterval > 0 {
			ticker := time.NewTicker(e.cfg.MessageInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for i := 0; e.cfg.MessageCount == 0 || i < e.cfg.MessageCount; i++ {
			if i > 0 && tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			msg := execution.NewMessage([]byte(e.cfg.MessageContent))
			msg.ID = strconv.Itoa(i)
			for k, v := range e.cfg.Headers {
				msg.Headers[k] = []string{v}
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
