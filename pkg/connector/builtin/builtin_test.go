package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

func newContext(method, path string, headers http.Header, body []byte) *execution.Context {
	var rc io.ReadCloser
	if body != nil {
		rc = io.NopCloser(bytes.NewReader(body))
	}
	req := execution.NewRequest(method, path, headers, rc)
	ec := execution.NewContext(req, nil, execution.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ec.SetInternalAttribute(execution.InternalListenerType, domain.ListenerHTTP)
	return ec
}

func deployment() connector.DeploymentContext {
	return connector.DeploymentContext{
		Api:    &domain.Api{ID: "api", Type: domain.ApiTypeMessage},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRegisterResolvesEveryConnector(t *testing.T) {
	r := connector.NewRegistry()
	Register(r)

	for _, id := range []string{HTTPProxyID, "proxy", HTTPGetID, HTTPPostID, SSEID} {
		_, ok := r.Entrypoint(id)
		assert.True(t, ok, id)
	}
	for _, id := range []string{HTTPProxyID, "http", MockID, NATSID} {
		_, ok := r.Endpoint(id)
		assert.True(t, ok, id)
	}
}

func TestEntrypointMatchCriteria(t *testing.T) {
	get, err := NewHTTPGetEntrypoint(deployment(), nil, domain.QosAuto)
	require.NoError(t, err)
	post, err := NewHTTPPostEntrypoint(deployment(), nil, domain.QosAuto)
	require.NoError(t, err)
	sse, err := NewSSEEntrypoint(deployment(), nil, domain.QosAuto)
	require.NoError(t, err)

	resolver := connector.NewEntrypointResolverFrom([]connector.EntrypointConnector{get, post, sse}, nil)

	tests := []struct {
		name    string
		method  string
		headers http.Header
		want    string
	}{
		{name: "event stream", method: http.MethodGet, headers: http.Header{"Accept": {"text/event-stream"}}, want: SSEID},
		{name: "plain get", method: http.MethodGet, want: HTTPGetID},
		{name: "post", method: http.MethodPost, want: HTTPPostID},
		{name: "no match", method: http.MethodDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve(newContext(tt.method, "/", tt.headers, nil))
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID())
		})
	}
}

func TestMessageEntrypointRejectsUnsupportedQos(t *testing.T) {
	_, err := NewHTTPPostEntrypoint(deployment(), nil, domain.QosAtLeastOnce)
	assert.ErrorIs(t, err, connector.ErrUnsupportedQos)

	_, err = NewHTTPGetEntrypoint(deployment(), map[string]any{"messagesLimitCount": 0}, domain.QosAuto)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfiguration)
}

func TestHTTPPostPublishesBodyToEndpoint(t *testing.T) {
	post, err := NewHTTPPostEntrypoint(deployment(), map[string]any{"requestHeadersToMessage": true}, "")
	require.NoError(t, err)
	endpoint, err := NewMockEndpoint(deployment(), domain.Endpoint{Name: "mock"}, nil)
	require.NoError(t, err)

	ec := newContext(http.MethodPost, "/", http.Header{"X-Trace": {"1"}}, []byte(`{"hello":"world"}`))
	var seen *execution.Message
	ec.Request().Messages().OnMessage(func(_ context.Context, msg *execution.Message) (*execution.Message, error) {
		seen = msg
		return msg, nil
	})

	ctx := context.Background()
	require.NoError(t, post.HandleRequest(ctx, ec))
	require.NoError(t, endpoint.Connect(ctx, ec))
	require.NoError(t, post.HandleResponse(ctx, ec))

	assert.Equal(t, http.StatusAccepted, ec.Response().Status)
	assert.Equal(t, int64(1), endpoint.(*MockEndpoint).Published())
	require.NotNil(t, seen)
	assert.Equal(t, `{"hello":"world"}`, string(seen.Content))
	assert.Equal(t, []string{"1"}, seen.Headers["X-Trace"])
}

func TestHTTPGetReturnsLimitedPage(t *testing.T) {
	get, err := NewHTTPGetEntrypoint(deployment(), map[string]any{"messagesLimitCount": 10, "messagesLimitDuration": "2s"}, domain.QosAuto)
	require.NoError(t, err)
	endpoint, err := NewMockEndpoint(deployment(), domain.Endpoint{Name: "mock", Configuration: map[string]any{"messageContent": "tick"}}, nil)
	require.NoError(t, err)

	ec := newContext(http.MethodGet, "/", nil, nil)
	ec.Request().Parameters.Set("limit", "3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, get.HandleRequest(ctx, ec))
	require.NoError(t, endpoint.Connect(ctx, ec))
	require.NoError(t, get.HandleResponse(ctx, ec))

	assert.Equal(t, "application/json", ec.Response().Headers.Get("Content-Type"))
	body, err := ec.Response().Body().Buffer()
	require.NoError(t, err)

	var page httpGetPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 3)
	assert.Equal(t, "0", page.Items[0].ID)
	assert.Equal(t, "tick", page.Items[2].Content)
	assert.Equal(t, 3, page.Pagination.Limit)
}

func TestHTTPGetStopsAtDuration(t *testing.T) {
	get, err := NewHTTPGetEntrypoint(deployment(), map[string]any{"messagesLimitDuration": "50ms"}, domain.QosAuto)
	require.NoError(t, err)
	endpoint, err := NewMockEndpoint(deployment(), domain.Endpoint{Name: "mock", Configuration: map[string]any{"messageInterval": "1h"}}, nil)
	require.NoError(t, err)

	ec := newContext(http.MethodGet, "/", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, get.HandleRequest(ctx, ec))
	require.NoError(t, endpoint.Connect(ctx, ec))

	start := time.Now()
	require.NoError(t, get.HandleResponse(ctx, ec))
	assert.Less(t, time.Since(start), time.Second)

	body, err := ec.Response().Body().Buffer()
	require.NoError(t, err)
	var page httpGetPage
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Items, 1)
}

func TestSSEStreamsEvents(t *testing.T) {
	sse, err := NewSSEEntrypoint(deployment(), map[string]any{"heartbeatInterval": "0s", "retry": "1s"}, domain.QosAuto)
	require.NoError(t, err)
	endpoint, err := NewMockEndpoint(deployment(), domain.Endpoint{Name: "mock", Configuration: map[string]any{
		"messageContent": "line1\nline2",
		"messageCount":   2,
	}}, nil)
	require.NoError(t, err)

	ec := newContext(http.MethodGet, "/", http.Header{"Accept": {"text/event-stream"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sse.HandleRequest(ctx, ec))
	require.NoError(t, endpoint.Connect(ctx, ec))
	require.NoError(t, sse.HandleResponse(ctx, ec))

	assert.Equal(t, "text/event-stream", ec.Response().Headers.Get("Content-Type"))
	streamer := ec.Response().Streamer()
	require.NotNil(t, streamer)

	var out bytes.Buffer
	flushes := 0
	require.NoError(t, streamer(ctx, &out, func() { flushes++ }))

	assert.Equal(t, "retry: 1000\n\n"+
		"id: 0\nevent: message\ndata: line1\ndata: line2\n\n"+
		"id: 1\nevent: message\ndata: line1\ndata: line2\n\n", out.String())
	assert.Equal(t, 3, flushes)
}

func TestHTTPProxyEndpointForwardsCall(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend", "yes")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))
	defer backend.Close()

	endpoint, err := NewHTTPProxyEndpoint(deployment(), domain.Endpoint{
		Name:          "backend",
		Configuration: map[string]any{"headers": map[string]any{"X-Injected": "1"}},
	}, map[string]any{"target": backend.URL + "/base"})
	require.NoError(t, err)
	defer func() { _ = endpoint.Stop(context.Background()) }()

	ec := newContext(http.MethodPost, "/orders", http.Header{
		"Content-Type":        {"text/plain"},
		"Proxy-Authorization": {"secret"},
	}, []byte("payload"))
	ec.Request().Parameters.Set("q", "1")
	ec.Request().RemoteAddress = "10.0.0.1"

	require.NoError(t, endpoint.Connect(context.Background(), ec))

	require.NotNil(t, got)
	assert.Equal(t, "/base/orders", got.URL.Path)
	assert.Equal(t, "1", got.URL.Query().Get("q"))
	assert.Equal(t, "1", got.Header.Get("X-Injected"))
	assert.Equal(t, "10.0.0.1", got.Header.Get("X-Forwarded-For"))
	assert.Empty(t, got.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "payload", string(gotBody))

	resp := ec.Response()
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "yes", resp.Headers.Get("X-Backend"))
	assert.Empty(t, resp.Headers.Get("Keep-Alive"))
	body, err := resp.Body().Buffer()
	require.NoError(t, err)
	assert.Equal(t, "created", string(body))
}

func TestHTTPProxyEndpointFailures(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name   string
		target string
		status int
		key    string
	}{
		{name: "unreachable", target: closedURL, status: http.StatusBadGateway, key: domain.KeyUpstreamUnreachable},
		{name: "timeout", target: slow.URL, status: http.StatusGatewayTimeout, key: domain.KeyRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint, err := NewHTTPProxyEndpoint(deployment(), domain.Endpoint{Name: "b"}, map[string]any{
				"target":  tt.target,
				"timeout": "50ms",
			})
			require.NoError(t, err)

			err = endpoint.Connect(context.Background(), newContext(http.MethodGet, "/", nil, nil))
			failure, ok := execution.AsFailure(err)
			require.True(t, ok, "expected a failure, got %v", err)
			assert.Equal(t, tt.status, failure.StatusCode)
			assert.Equal(t, tt.key, failure.Key)
		})
	}
}

func TestHTTPProxyEndpointRejectsInvalidTarget(t *testing.T) {
	for _, target := range []string{"", "ftp://host", "not a url"} {
		_, err := NewHTTPProxyEndpoint(deployment(), domain.Endpoint{Name: "b"}, map[string]any{"target": target})
		assert.ErrorIs(t, err, plugin.ErrInvalidConfiguration, target)
	}
}

func TestMockEndpointProxyResponse(t *testing.T) {
	endpoint, err := NewMockEndpoint(deployment(), domain.Endpoint{Name: "mock", Configuration: map[string]any{
		"status":  418,
		"headers": map[string]any{"X-Mock": "true"},
		"body":    "teapot",
	}}, nil)
	require.NoError(t, err)

	ec := newContext(http.MethodGet, "/", nil, nil)
	require.NoError(t, endpoint.Connect(context.Background(), ec))
	assert.Equal(t, 418, ec.Response().Status)
	assert.Equal(t, "true", ec.Response().Headers.Get("X-Mock"))
	body, _ := ec.Response().Body().Buffer()
	assert.Equal(t, "teapot", string(body))
}

func TestNATSEndpoint(t *testing.T) {
	_, err := NewNATSEndpoint(deployment(), domain.Endpoint{Name: "n"}, nil)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfiguration)

	endpoint, err := NewNATSEndpoint(deployment(), domain.Endpoint{Name: "n"}, map[string]any{
		"url":            "nats://127.0.0.1:1",
		"subject":        "orders",
		"connectTimeout": "100ms",
	})
	require.NoError(t, err)

	ec := newContext(http.MethodGet, "/", nil, nil)
	err = endpoint.Connect(context.Background(), ec)
	failure, ok := execution.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, failure.StatusCode)

	ec.SetInternalAttribute(execution.InternalMessagesOp, execution.OperationSubscribe)
	err = endpoint.Connect(context.Background(), ec)
	failure, ok = execution.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, failure.StatusCode)
	assert.Equal(t, domain.KeyUpstreamUnreachable, failure.Key)

	assert.NoError(t, endpoint.Stop(context.Background()))
}

func TestSSEEventHeadersAsComment(t *testing.T) {
	e := &SSEEntrypoint{cfg: sseConfig{HeadersAsComment: true}}
	msg := execution.NewMessage([]byte("x"))
	msg.ID = "7"
	msg.Error = true
	msg.Headers["K"] = []string{"v"}
	assert.Equal(t, ": K=v\nid: 7\nevent: error\ndata: x\n\n", e.event(msg))
	assert.True(t, strings.HasSuffix(e.event(msg), "\n\n"))
}
