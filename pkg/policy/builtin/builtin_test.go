package builtin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newContext(method, path string, headers http.Header) *execution.Context {
	return execution.NewContext(execution.NewRequest(method, path, headers, nil), nil, execution.Config{Logger: discardLogger()})
}

func create(t *testing.T, kind string, cfg map[string]any) policy.Policy {
	t.Helper()
	r := policy.NewRegistry()
	Register(r, discardLogger())
	p, err := r.Create(policy.Metadata{Policy: kind, Name: kind, Configuration: cfg})
	require.NoError(t, err)
	return p
}

func TestTransformHeadersRequestOperations(t *testing.T) {
	ec := newContext(http.MethodGet, "/widgets", http.Header{
		"Authorization": {"Bearer inbound"},
		"X-Old":         {"legacy"},
	})
	p := create(t, TransformHeadersID, map[string]any{
		"operations": []any{
			map[string]any{"action": "remove", "headers": []any{"Authorization"}},
			map[string]any{"action": "set", "header": "X-Method", "value": "{#request.method}"},
			map[string]any{"action": "add", "header": "X-Trace-ID", "values": []any{"trace-1", "trace-2"}},
			map[string]any{"action": "rename", "from": "X-Old", "to": "X-New"},
			map[string]any{"action": "set", "headers": map[string]any{"X-Static": "yes"}},
		},
	})

	require.NoError(t, p.(policy.RequestPolicy).OnRequest(context.Background(), ec))

	h := ec.Request().Headers
	assert.Empty(t, h.Values("Authorization"))
	assert.Equal(t, []string{"GET"}, h.Values("X-Method"))
	assert.Equal(t, []string{"trace-1", "trace-2"}, h.Values("X-Trace-Id"))
	assert.Empty(t, h.Values("X-Old"))
	assert.Equal(t, []string{"legacy"}, h.Values("X-New"))
	assert.Equal(t, "yes", h.Get("X-Static"))
}

func TestTransformHeadersResponseAndMessage(t *testing.T) {
	ec := newContext(http.MethodGet, "/", nil)
	p := create(t, TransformHeadersID, map[string]any{
		"operations": []any{map[string]any{"action": "set", "header": "X-Served-By", "value": "gateway"}},
	})

	require.NoError(t, p.(policy.ResponsePolicy).OnResponse(context.Background(), ec))
	assert.Equal(t, "gateway", ec.Response().Headers.Get("X-Served-By"))

	msg, err := p.(policy.MessageResponsePolicy).OnMessageResponse(context.Background(), ec, &execution.Message{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway"}, msg.Headers["X-Served-By"])
}

func TestTransformHeadersInvalidConfiguration(t *testing.T) {
	r := policy.NewRegistry()
	Register(r, discardLogger())

	for _, op := range []map[string]any{
		{"action": "remove"},
		{"action": "set"},
		{"action": "rename", "from": "A"},
		{"action": "explode"},
	} {
		_, err := r.Create(policy.Metadata{Policy: TransformHeadersID, Configuration: map[string]any{"operations": []any{op}}})
		require.ErrorIs(t, err, policy.ErrInvalidConfiguration, "%v", op)
	}
}

func TestInterruptWith(t *testing.T) {
	ec := newContext(http.MethodGet, "/", nil)
	p := create(t, InterruptWithID, map[string]any{"status": 403, "key": "CUSTOM_DENY", "message": "no {#request.method}"})

	err := p.(policy.RequestPolicy).OnRequest(context.Background(), ec)
	failure, ok := execution.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, execution.ExecutionFailure{StatusCode: 403, Key: "CUSTOM_DENY", Message: "no GET"}, failure)
}

func TestMockResponse(t *testing.T) {
	ec := newContext(http.MethodGet, "/", nil)
	p := create(t, MockResponseID, map[string]any{
		"status":  201,
		"headers": map[string]any{"Content-Type": "application/json"},
		"body":    `{"path":"{#request.path}"}`,
	})

	err := p.(policy.RequestPolicy).OnRequest(context.Background(), ec)
	require.ErrorIs(t, err, execution.ErrInterrupted)
	assert.Equal(t, execution.OutcomeInterrupted, execution.Classify(err))

	resp := ec.Response()
	assert.Equal(t, 201, resp.Status)
	body, err := resp.Body().Buffer()
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/"}`, string(body))
}

func TestAssignAttributes(t *testing.T) {
	ec := newContext(http.MethodPost, "/orders", nil)
	p := create(t, AssignAttributesID, map[string]any{
		"attributes": []any{map[string]any{"name": "order.method", "value": "{#request.method}"}},
	})

	require.NoError(t, p.(policy.RequestPolicy).OnRequest(context.Background(), ec))
	assert.Equal(t, "POST", ec.Attribute("order.method"))

	msg, err := p.(policy.MessageRequestPolicy).OnMessageRequest(context.Background(), ec, execution.NewMessage([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "POST", msg.Attributes["order.method"])
}

func TestPassthrough(t *testing.T) {
	ec := newContext(http.MethodGet, "/", nil)
	p := create(t, "noop", nil)
	require.NoError(t, p.(policy.RequestPolicy).OnRequest(context.Background(), ec))
	assert.Equal(t, "noop", p.ID())
}
