package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/policy"
	"github.com/polisai/polis-gateway/pkg/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newContext(method, path string, headers http.Header) *execution.Context {
	return execution.NewContext(execution.NewRequest(method, path, headers, nil), nil, execution.Config{Logger: discardLogger()})
}

type countingHook struct {
	hook.Base
	pre []string
}

func (h *countingHook) ID() string { return "counting" }

func (h *countingHook) Pre(_ context.Context, componentID string, _ *execution.Context, _ execution.Phase) error {
	h.pre = append(h.pre, componentID)
	return nil
}

func TestChainStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran []string
	unit := func(name string, err error) Processor {
		return Func{Name: name, Fn: func(context.Context, *execution.Context) error {
			ran = append(ran, name)
			return err
		}}
	}
	hk := &countingHook{}
	chain := NewChain("pre", execution.PhaseRequest, []Processor{
		unit("a", nil), unit("b", boom), unit("c", nil),
	}, ChainConfig{Hooks: []hook.Hook{hk}, Logger: discardLogger()})

	err := chain.Execute(context.Background(), newContext(http.MethodGet, "/", nil))
	assert.Same(t, boom, err)
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, []string{"a", "b"}, hk.pre)
}

func TestChainHonoursCancellation(t *testing.T) {
	ran := false
	chain := NewChain("pre", execution.PhaseRequest, []Processor{Func{Name: "a", Fn: func(context.Context, *execution.Context) error {
		ran = true
		return nil
	}}}, ChainConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, chain.Execute(ctx, newContext(http.MethodGet, "/", nil)), context.Canceled)
	assert.False(t, ran)
}

func TestCorsPreflight(t *testing.T) {
	cors := domain.Cors{
		Enabled:      true,
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       600,
	}

	t.Run("valid preflight ends the call", func(t *testing.T) {
		ec := newContext(http.MethodOptions, "/", http.Header{
			"Origin":                         {"https://app.example.com"},
			"Access-Control-Request-Method":  {"POST"},
			"Access-Control-Request-Headers": {"content-type"},
		})
		err := NewCorsPreflight(cors).Execute(context.Background(), ec)
		assert.Equal(t, execution.OutcomeInterrupted, execution.Classify(err))

		resp := ec.Response()
		assert.Equal(t, http.StatusNoContent, resp.Status)
		assert.Equal(t, "https://app.example.com", resp.Headers.Get(headerAllowOrigin))
		assert.Equal(t, "GET, POST", resp.Headers.Get(headerAllowMethods))
		assert.Equal(t, "600", resp.Headers.Get(headerMaxAge))
		assert.Equal(t, "Origin", resp.Headers.Get(headerVary))
	})

	t.Run("disallowed method fails", func(t *testing.T) {
		ec := newContext(http.MethodOptions, "/", http.Header{
			"Origin":                        {"https://app.example.com"},
			"Access-Control-Request-Method": {"DELETE"},
		})
		failure, ok := execution.AsFailure(NewCorsPreflight(cors).Execute(context.Background(), ec))
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, failure.StatusCode)
		assert.Equal(t, domain.KeyCorsPreflightFailed, failure.Key)
	})

	t.Run("unknown origin fails", func(t *testing.T) {
		ec := newContext(http.MethodOptions, "/", http.Header{
			"Origin":                        {"https://evil.example.com"},
			"Access-Control-Request-Method": {"GET"},
		})
		_, ok := execution.AsFailure(NewCorsPreflight(cors).Execute(context.Background(), ec))
		assert.True(t, ok)
	})

	t.Run("plain options is not a preflight", func(t *testing.T) {
		ec := newContext(http.MethodOptions, "/", nil)
		assert.NoError(t, NewCorsPreflight(cors).Execute(context.Background(), ec))
		assert.Nil(t, ec.InternalAttribute(execution.InternalInvokerSkip))
	})

	t.Run("run policies skips the endpoint instead", func(t *testing.T) {
		withPolicies := cors
		withPolicies.RunPolicies = true
		ec := newContext(http.MethodOptions, "/", http.Header{
			"Origin":                        {"https://app.example.com"},
			"Access-Control-Request-Method": {"GET"},
		})
		require.NoError(t, NewCorsPreflight(withPolicies).Execute(context.Background(), ec))
		assert.Equal(t, true, ec.InternalAttribute(execution.InternalInvokerSkip))
		assert.Equal(t, http.StatusNoContent, ec.Response().Status)
	})
}

func TestCorsHeaders(t *testing.T) {
	tests := []struct {
		name   string
		cors   domain.Cors
		origin string
		want   string
	}{
		{name: "wildcard", cors: domain.Cors{AllowOrigins: []string{"*"}}, origin: "https://a.example", want: "*"},
		{name: "wildcard with credentials echoes", cors: domain.Cors{AllowOrigins: []string{"*"}, AllowCredentials: true}, origin: "https://a.example", want: "https://a.example"},
		{name: "listed", cors: domain.Cors{AllowOrigins: []string{"https://a.example"}}, origin: "https://a.example", want: "https://a.example"},
		{name: "not listed", cors: domain.Cors{AllowOrigins: []string{"https://a.example"}}, origin: "https://b.example"},
		{name: "no origin", cors: domain.Cors{AllowOrigins: []string{"*"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.origin != "" {
				headers.Set("Origin", tt.origin)
			}
			ec := newContext(http.MethodGet, "/", headers)
			require.NoError(t, NewCorsHeaders(tt.cors).Execute(context.Background(), ec))
			assert.Equal(t, tt.want, ec.Response().Headers.Get(headerAllowOrigin))
		})
	}
}

func TestTransactionKeepsClientTransactionID(t *testing.T) {
	ec := newContext(http.MethodGet, "/", http.Header{HeaderTransactionID: {"tx-1"}})
	require.NoError(t, Transaction{}.Execute(context.Background(), ec))

	req := ec.Request()
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "tx-1", req.TransactionID)
	assert.Equal(t, req.ID, ec.Response().Headers.Get(HeaderRequestID))
	assert.Equal(t, "tx-1", ec.Response().Headers.Get(HeaderTransactionID))

	other := newContext(http.MethodGet, "/", nil)
	require.NoError(t, Transaction{}.Execute(context.Background(), other))
	assert.Equal(t, other.Request().ID, other.Request().TransactionID)
}

func TestSecurityPlanDeniesWithoutPlan(t *testing.T) {
	api := &domain.Api{ID: "api", Plans: []domain.Plan{{
		ID:       "keyed",
		Security: domain.PlanSecurity{Type: domain.SecurityApiKey, Configuration: map[string]any{"keys": []any{map[string]any{"key": "k"}}}},
	}}}
	registry := policy.NewRegistry()
	security.RegisterPolicies(registry)
	provider := policy.NewChainProvider("security", security.NewPlanResolver(api), policy.NewManager(registry, discardLogger()), policy.ChainConfig{Logger: discardLogger()})
	p := NewSecurityPlan(provider)

	failure, ok := execution.AsFailure(p.Execute(context.Background(), newContext(http.MethodGet, "/", nil)))
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, failure.StatusCode)
	assert.Equal(t, domain.KeyMissingSecuredRequestPlan, failure.Key)

	ec := newContext(http.MethodGet, "/", http.Header{"X-Api-Key": {"k"}})
	require.NoError(t, p.Execute(context.Background(), ec))
	assert.Equal(t, "keyed", ec.Attribute(execution.AttrPlan))

	skipped := newContext(http.MethodOptions, "/", nil)
	skipped.SetInternalAttribute(execution.InternalInvokerSkip, true)
	assert.NoError(t, p.Execute(context.Background(), skipped))
}

func TestPathMapping(t *testing.T) {
	p := NewPathMapping([]string{"/products/:id", "/products"})

	ec := newContext(http.MethodGet, "/products/42", nil)
	require.NoError(t, p.Execute(context.Background(), ec))
	assert.Equal(t, "/products/:id", ec.Attribute(execution.AttrMappedPath))

	ec = newContext(http.MethodGet, "/orders", nil)
	require.NoError(t, p.Execute(context.Background(), ec))
	assert.Nil(t, ec.Attribute(execution.AttrMappedPath))
}

type drain bool

func (d drain) Draining() bool { return bool(d) }

func TestShutdownClosesConnectionsWhileDraining(t *testing.T) {
	ec := newContext(http.MethodGet, "/", nil)
	require.NoError(t, NewShutdown(drain(false)).Execute(context.Background(), ec))
	assert.Empty(t, ec.Response().Headers.Get("Connection"))

	require.NoError(t, NewShutdown(drain(true)).Execute(context.Background(), ec))
	assert.Equal(t, "close", ec.Response().Headers.Get("Connection"))
}

func TestSimpleFailure(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		ec := newContext(http.MethodGet, "/", nil)
		ec.SetInternalAttribute(execution.InternalFailure, execution.ExecutionFailure{StatusCode: 404, Key: domain.KeyNoApi, Message: "No context-path matches the request URI."})
		require.NoError(t, SimpleFailure{}.Execute(context.Background(), ec))

		resp := ec.Response()
		assert.Equal(t, 404, resp.Status)
		assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
		body, _ := resp.Body().Buffer()
		var got domain.ErrorResponse
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, domain.ErrorResponse{Code: domain.KeyNoApi, Message: "No context-path matches the request URI.", StatusCode: 404}, got)
	})

	t.Run("text", func(t *testing.T) {
		ec := newContext(http.MethodGet, "/", http.Header{"Accept": {"text/html"}})
		ec.SetInternalAttribute(execution.InternalFailure, execution.ExecutionFailure{StatusCode: 503})
		require.NoError(t, SimpleFailure{}.Execute(context.Background(), ec))
		body, _ := ec.Response().Body().Buffer()
		assert.Equal(t, "Service Unavailable", string(body))
	})

	t.Run("missing failure is a 500", func(t *testing.T) {
		ec := newContext(http.MethodGet, "/", nil)
		require.NoError(t, SimpleFailure{}.Execute(context.Background(), ec))
		assert.Equal(t, http.StatusInternalServerError, ec.Response().Status)
	})
}

func TestResponseTemplate(t *testing.T) {
	templates := map[string]map[string]domain.ResponseTemplate{
		"CUSTOM_DENY": {
			"application/json": {Status: 403, Body: `{"denied":"{#error.key}"}`},
			"*/*":              {Body: "denied: {#error.message}", Headers: map[string]string{"X-Denied": "1"}},
		},
		DefaultTemplateKey: {
			"*/*": {Status: 418, Body: "default"},
		},
	}
	p := NewResponseTemplate(templates)

	tests := []struct {
		name        string
		accept      string
		failure     execution.ExecutionFailure
		status      int
		body        string
		contentType string
	}{
		{
			name:        "media type match",
			accept:      "text/html, application/json",
			failure:     execution.ExecutionFailure{StatusCode: 401, Key: "CUSTOM_DENY", Message: "no"},
			status:      403,
			body:        `{"denied":"CUSTOM_DENY"}`,
			contentType: "application/json",
		},
		{
			name:    "wildcard media type keeps failure status",
			accept:  "text/html",
			failure: execution.ExecutionFailure{StatusCode: 401, Key: "CUSTOM_DENY", Message: "no"},
			status:  401,
			body:    "denied: no",
		},
		{
			name:    "default key",
			failure: execution.ExecutionFailure{StatusCode: 500, Key: "OTHER"},
			status:  418,
			body:    "default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.accept != "" {
				headers.Set("Accept", tt.accept)
			}
			ec := newContext(http.MethodGet, "/", headers)
			ec.SetInternalAttribute(execution.InternalFailure, tt.failure)
			require.NoError(t, p.Execute(context.Background(), ec))

			resp := ec.Response()
			assert.Equal(t, tt.status, resp.Status)
			body, _ := resp.Body().Buffer()
			assert.Equal(t, tt.body, string(body))
			assert.Equal(t, tt.contentType, resp.Headers.Get("Content-Type"))
		})
	}
}

func TestResponseTemplateFallsBackToSimpleFailure(t *testing.T) {
	p := NewResponseTemplate(map[string]map[string]domain.ResponseTemplate{
		"CUSTOM_DENY": {"application/xml": {Body: "<denied/>"}},
	})
	ec := newContext(http.MethodGet, "/", http.Header{"Accept": {"application/json"}})
	ec.SetInternalAttribute(execution.InternalFailure, execution.ExecutionFailure{StatusCode: 403, Key: "CUSTOM_DENY", Message: "no"})
	require.NoError(t, p.Execute(context.Background(), ec))
	assert.Equal(t, "application/json", ec.Response().Headers.Get("Content-Type"))
	assert.Equal(t, 403, ec.Response().Status)
}

func TestLoggingProcessorsWriteOneRecord(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cfg := domain.Logging{Mode: domain.LoggingClient, Headers: true, Payloads: true}

	ec := newContext(http.MethodPost, "/orders", http.Header{"Authorization": {"secret"}, "X-Trace": {"1"}})
	ec.Request().SetBody([]byte("in"))
	ec.SetAttribute(execution.AttrApi, "api-1")

	require.NoError(t, NewLogRequest(cfg).Execute(context.Background(), ec))
	ec.Response().Status = 201
	ec.Response().SetBody([]byte("out"))
	require.NoError(t, NewLogResponse(cfg, logger).Execute(context.Background(), ec))
	require.NoError(t, NewLogResponse(cfg, logger).Execute(context.Background(), ec))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "api call", record["msg"])
	assert.Equal(t, "api-1", record["api_id"])
	assert.Equal(t, float64(201), record["status"])
	assert.Equal(t, "in", record["request_body"])
	assert.Equal(t, "out", record["response_body"])
	headers := record["request_headers"].(map[string]any)
	assert.NotEqual(t, []any{"secret"}, headers["Authorization"])
	assert.Equal(t, []any{"1"}, headers["X-Trace"])
}

func TestLoggingConditionFiltersCalls(t *testing.T) {
	cfg := domain.Logging{Mode: domain.LoggingClient, Condition: `request.method == "POST"`}
	ec := newContext(http.MethodGet, "/", nil)
	require.NoError(t, NewLogRequest(cfg).Execute(context.Background(), ec))
	assert.Nil(t, ec.InternalAttribute(execution.InternalLogRecord))
}

func TestBuildAssemblesFromConfiguration(t *testing.T) {
	api := &domain.Api{
		ID: "api",
		Listeners: []domain.Listener{{
			Type:         domain.ListenerHTTP,
			Cors:         &domain.Cors{Enabled: true, AllowOrigins: []string{"*"}},
			PathMappings: []string{"/a/:id"},
		}},
		Logging:           &domain.Logging{Mode: domain.LoggingClient},
		ResponseTemplates: map[string]map[string]domain.ResponseTemplate{"X": {"*/*": {Body: "x"}}},
	}
	chains := Build(Config{Api: api, Logger: discardLogger()})
	assert.Equal(t, []string{transactionID, corsPreflightID, logRequestID}, chains.Pre.IDs())
	assert.Equal(t, []string{corsSimpleID, pathMappingID, logResponseID, shutdownID}, chains.Post.IDs())
	assert.Equal(t, []string{corsSimpleID, pathMappingID, responseTemplateID, logResponseID, shutdownID}, chains.Error.IDs())

	bare := Build(Config{Api: &domain.Api{ID: "bare"}, Logger: discardLogger()})
	assert.Equal(t, []string{transactionID}, bare.Pre.IDs())
	assert.Equal(t, []string{shutdownID}, bare.Post.IDs())
	assert.Equal(t, []string{simpleFailureID, shutdownID}, bare.Error.IDs())
}
