package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

const (
	sseMediaType        = "text/event-stream"
	defaultSSEHeartbeat = 5 * time.Second
	defaultSSERetry     = 5 * time.Second
)

type sseConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	Retry             time.Duration `yaml:"retry"`
	HeadersAsComment  bool          `yaml:"headersAsComment"`
}

// SSEEntrypoint streams the response messages as server-sent events.
type SSEEntrypoint struct {
	messageEntrypoint
	cfg sseConfig
}

// NewSSEEntrypoint is the sse entrypoint factory.
func NewSSEEntrypoint(_ connector.DeploymentContext, raw map[string]any, qos domain.Qos) (connector.EntrypointConnector, error) {
	cfg := sseConfig{HeartbeatInterval: defaultSSEHeartbeat, Retry: defaultSSERetry}
	if err := plugin.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval < 0 || cfg.Retry < 0 {
		return nil, fmt.Errorf("%w: sse intervals must not be negative", plugin.ErrInvalidConfiguration)
	}
	base, err := newMessageEntrypoint(SSEID, qos, []domain.Qos{domain.QosAuto, domain.QosNone})
	if err != nil {
		return nil, err
	}
	return &SSEEntrypoint{messageEntrypoint: base, cfg: cfg}, nil
}

func (e *SSEEntrypoint) SupportedQos() []domain.Qos {
	return []domain.Qos{domain.QosAuto, domain.QosNone}
}

func (e *SSEEntrypoint) MatchCriteriaCount() int { return 2 }

func (e *SSEEntrypoint) Matches(ec *execution.Context) bool {
	return isMethod(ec, http.MethodGet) && ec.Request().AcceptsMediaType(sseMediaType)
}

func (e *SSEEntrypoint) HandleRequest(_ context.Context, ec *execution.Context) error {
	setOperation(ec, execution.OperationSubscribe)
	return nil
}

func (e *SSEEntrypoint) HandleResponse(_ context.Context, ec *execution.Context) error {
	resp := ec.Response()
	resp.Status = http.StatusOK
	resp.Headers.Set("Content-Type", sseMediaType)
	resp.Headers.Set("Cache-Control", "no-cache")
	resp.Headers.Del("Content-Length")
	resp.SetStreamer(e.stream(ec, resp.Messages()))
	return nil
}

// stream consumes the flow on its own goroutine so heartbeats keep the
// connection alive while no message arrives.
func (e *SSEEntrypoint) stream(ec *execution.Context, flow *execution.MessageFlow) execution.Streamer {
	return func(ctx context.Context, w io.Writer, flush func()) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		messages := make(chan *execution.Message)
		done := make(chan error, 1)
		go func() {
			defer close(messages)
			done <- flow.Consume(ctx, func(msg *execution.Message) error {
				select {
				case messages <- msg:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		if e.cfg.Retry > 0 {
			if _, err := fmt.Fprintf(w, "retry: %d\n\n", e.cfg.Retry.Milliseconds()); err != nil {
				return err
			}
			flush()
		}

		var heartbeat <-chan time.Time
		if e.cfg.HeartbeatInterval > 0 {
			ticker := time.NewTicker(e.cfg.HeartbeatInterval)
			defer ticker.Stop()
			heartbeat = ticker.C
		}

		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return e.finish(ctx, ec, w, flush, <-done)
				}
				if _, err := io.WriteString(w, e.event(msg)); err != nil {
					return err
				}
				msg.Ack()
				flush()
			case <-heartbeat:
				if _, err := io.WriteString(w, ":\n\n"); err != nil {
					return err
				}
				flush()
			}
		}
	}
}

// finish ends the stream with an error event when the flow failed after the
// response was committed.
func (e *SSEEntrypoint) finish(ctx context.Context, ec *execution.Context, w io.Writer, flush func(), err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	handler := execution.StreamFailure(ec)
	if handler == nil {
		return err
	}
	msg := handler(ctx, err)
	if msg == nil {
		return nil
	}
	if _, werr := io.WriteString(w, e.event(msg)); werr != nil {
		return werr
	}
	flush()
	return nil
}

func (e *SSEEntrypoint) event(msg *execution.Message) string {
	var b strings.Builder
	if e.cfg.HeadersAsComment {
		for k, values := range msg.Headers {
			for _, v := range values {
				fmt.Fprintf(&b, ": %s=%s\n", k, v)
			}
		}
	}
	fmt.Fprintf(&b, "id: %s\n", msg.ID)
	if msg.Error {
		b.WriteString("event: error\n")
	} else {
		b.WriteString("event: message\n")
	}
	for _, line := range strings.Split(string(msg.Content), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}
