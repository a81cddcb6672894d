package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

const (
	defaultNATSConnectTimeout = 2 * time.Second
	defaultNATSFlushTimeout   = 5 * time.Second
	defaultNATSBufferSize     = 64
)

type natsConfig struct {
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	Queue          string        `yaml:"queue"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	FlushTimeout   time.Duration `yaml:"flushTimeout"`
	BufferSize     int           `yaml:"bufferSize"`
}

// NATSEndpoint publishes request messages to a subject and subscribes to it
// for response messages. The connection is opened on first use.
type NATSEndpoint struct {
	name   string
	cfg    natsConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewNATSEndpoint is the nats endpoint factory.
func NewNATSEndpoint(dc connector.DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (connector.EndpointConnector, error) {
	cfg := natsConfig{
		URL:            nats.DefaultURL,
		ConnectTimeout: defaultNATSConnectTimeout,
		FlushTimeout:   defaultNATSFlushTimeout,
		BufferSize:     defaultNATSBufferSize,
	}
	if err := plugin.Decode(plugin.Merge(shared, endpoint.Configuration), &cfg); err != nil {
		return nil, err
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("%w: nats endpoint %q requires a subject", plugin.ErrInvalidConfiguration, endpoint.Name)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultNATSBufferSize
	}
	logger := dc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSEndpoint{
		name:   endpoint.Name,
		cfg:    cfg,
		logger: logger.With("endpoint", endpoint.Name, "subject", cfg.Subject),
	}, nil
}

func (e *NATSEndpoint) ID() string                   { return NATSID + ":" + e.name }
func (e *NATSEndpoint) SupportedApi() domain.ApiType { return domain.ApiTypeMessage }

func (e *NATSEndpoint) PreStop(context.Context) error { return nil }

// Stop drains the connection so in-flight messages are delivered.
func (e *NATSEndpoint) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Drain()
	e.conn = nil
	if err != nil {
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func (e *NATSEndpoint) connection() (*nats.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil && !e.conn.IsClosed() {
		return e.conn, nil
	}
	conn, err := nats.Connect(e.cfg.URL,
		nats.Name("gateway-"+e.name),
		nats.Timeout(e.cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				e.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			e.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	return conn, nil
}

// Connect publishes or subscribes depending on the operation chosen by the
// entrypoint.
func (e *NATSEndpoint) Connect(ctx context.Context, ec *execution.Context) error {
	op, _ := ec.InternalAttribute(execution.InternalMessagesOp).(execution.MessageOperation)
	if op != execution.OperationPublish && op != execution.OperationSubscribe {
		return execution.NewFailure(http.StatusBadRequest, domain.KeyUnsupportedQos, "Message operation not supported by endpoint")
	}

	conn, err := e.connection()
	if err != nil {
		ec.Logger().Warn("nats connection failed", "url", e.cfg.URL, "error", err)
		return execution.NewFailure(http.StatusBadGateway, domain.KeyUpstreamUnreachable, "Bad gateway")
	}

	if op == execution.OperationPublish {
		return e.publish(ctx, ec, conn)
	}
	return e.subscribe(ctx, ec, conn)
}

func (e *NATSEndpoint) publish(ctx context.Context, ec *execution.Context, conn *nats.Conn) error {
	err := ec.Request().Messages().Consume(ctx, func(msg *execution.Message) error {
		out := &nats.Msg{Subject: e.cfg.Subject, Data: msg.Content, Header: nats.Header{}}
		for k, v := range msg.Headers {
			out.Header[k] = append([]string(nil), v...)
		}
		if err := conn.PublishMsg(out); err != nil {
			return fmt.Errorf("publish to %s: %w", e.cfg.Subject, err)
		}
		msg.Ack()
		return nil
	})
	if err != nil {
		return err
	}
	if err := conn.FlushTimeout(e.cfg.FlushTimeout); err != nil {
		return fmt.Errorf("flush nats connection: %w", err)
	}
	return nil
}

func (e *NATSEndpoint) subscribe(ctx context.Context, ec *execution.Context, conn *nats.Conn) error {
	in := make(chan *nats.Msg, e.cfg.BufferSize)
	var (
		sub *nats.Subscription
		err error
	)
	if e.cfg.Queue != "" {
		sub, err = conn.ChanQueueSubscribe(e.cfg.Subject, e.cfg.Queue, in)
	} else {
		sub, err = conn.ChanSubscribe(e.cfg.Subject, in)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", e.cfg.Subject, err)
	}

	out := make(chan *execution.Message)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				e.logger.Debug("nats unsubscribe failed", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				msg := execution.NewMessage(m.Data)
				for k, v := range m.Header {
					msg.Headers[k] = v
				}
				msg.Metadata["subject"] = m.Subject
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	ec.Response().Messages().SetSource(out)
	return nil
}
