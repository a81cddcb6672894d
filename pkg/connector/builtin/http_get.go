package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

const (
	defaultMessagesLimitCount    = 100
	defaultMessagesLimitDuration = 5 * time.Second
)

type httpGetConfig struct {
	MessagesLimitCount    int           `yaml:"messagesLimitCount"`
	MessagesLimitDuration time.Duration `yaml:"messagesLimitDuration"`
	HeadersInPayload      bool          `yaml:"headersInPayload"`
}

// HTTPGetEntrypoint answers a GET with the messages received from the
// endpoint until either the count or the duration limit is reached.
type HTTPGetEntrypoint struct {
	messageEntrypoint
	cfg httpGetConfig
}

// NewHTTPGetEntrypoint is the http-get entrypoint factory.
func NewHTTPGetEntrypoint(_ connector.DeploymentContext, raw map[string]any, qos domain.Qos) (connector.EntrypointConnector, error) {
	cfg := httpGetConfig{
		MessagesLimitCount:    defaultMessagesLimitCount,
		MessagesLimitDuration: defaultMessagesLimitDuration,
	}
	if err := plugin.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MessagesLimitCount <= 0 || cfg.MessagesLimitDuration <= 0 {
		return nil, fmt.Errorf("%w: http-get limits must be positive", plugin.ErrInvalidConfiguration)
	}
	base, err := newMessageEntrypoint(HTTPGetID, qos, []domain.Qos{domain.QosAuto, domain.QosNone, domain.QosAtLeastOnce})
	if err != nil {
		return nil, err
	}
	return &HTTPGetEntrypoint{messageEntrypoint: base, cfg: cfg}, nil
}

func (e *HTTPGetEntrypoint) SupportedQos() []domain.Qos {
	return []domain.Qos{domain.QosAuto, domain.QosNone, domain.QosAtLeastOnce}
}

func (e *HTTPGetEntrypoint) MatchCriteriaCount() int { return 1 }

func (e *HTTPGetEntrypoint) Matches(ec *execution.Context) bool {
	return isMethod(ec, http.MethodGet)
}

func (e *HTTPGetEntrypoint) HandleRequest(_ context.Context, ec *execution.Context) error {
	setOperation(ec, execution.OperationSubscribe)
	return nil
}

type httpGetItem struct {
	ID      string              `json:"id"`
	Content string              `json:"content"`
	Headers map[string][]string `json:"headers,omitempty"`
	Error   bool                `json:"error,omitempty"`
}

type httpGetPage struct {
	Items      []httpGetItem `json:"items"`
	Pagination struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	} `json:"pagination"`
}

// HandleResponse consumes the response messages. A limit query parameter may
// lower the configured count.
func (e *HTTPGetEntrypoint) HandleResponse(ctx context.Context, ec *execution.Context) error {
	limit := e.cfg.MessagesLimitCount
	if raw := ec.Request().Parameters.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	consumeCtx, cancel := context.WithTimeout(ctx, e.cfg.MessagesLimitDuration)
	defer cancel()

	page := httpGetPage{Items: []httpGetItem{}}
	err := ec.Response().Messages().Consume(consumeCtx, func(msg *execution.Message) error {
		item := httpGetItem{ID: msg.ID, Content: string(msg.Content), Error: msg.Error}
		if e.cfg.HeadersInPayload {
			item.Headers = msg.Headers
		}
		page.Items = append(page.Items, item)
		msg.Ack()
		if len(page.Items) >= limit {
			return execution.ErrStopConsuming
		}
		return nil
	})
	if err != nil && (ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded)) {
		return err
	}

	page.Pagination.Count = len(page.Items)
	page.Pagination.Limit = limit
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	resp := ec.Response()
	resp.Status = http.StatusOK
	resp.Headers.Set("Content-Type", "application/json")
	resp.SetBody(data)
	return nil
}
