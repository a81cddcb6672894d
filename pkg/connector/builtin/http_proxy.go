package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/connector"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// DefaultUpstreamTimeout bounds the wait for backend response headers.
const DefaultUpstreamTimeout = 60 * time.Second

type httpProxyConfig struct {
	Target          string            `yaml:"target"`
	Timeout         time.Duration     `yaml:"timeout"`
	Headers         map[string]string `yaml:"headers"`
	FollowRedirects bool              `yaml:"followRedirects"`
	PropagateHost   bool              `yaml:"propagateHost"`
	CircuitBreaker  breakerConfig     `yaml:"circuitBreaker"`
}

// HTTPProxyEndpoint forwards the call to an HTTP backend and relays its
// response without buffering the body.
type HTTPProxyEndpoint struct {
	name      string
	cfg       httpProxyConfig
	target    *url.URL
	transport *http.Transport
	client    *http.Client
	breaker   *breaker
}

// NewHTTPProxyEndpoint is the http-proxy endpoint factory. The endpoint
// configuration overrides the configuration shared by its group.
func NewHTTPProxyEndpoint(_ connector.DeploymentContext, endpoint domain.Endpoint, shared map[string]any) (connector.EndpointConnector, error) {
	cfg := httpProxyConfig{Timeout: DefaultUpstreamTimeout}
	if err := plugin.Decode(plugin.Merge(shared, endpoint.Configuration), &cfg); err != nil {
		return nil, err
	}
	target, err := url.Parse(cfg.Target)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q target %q is not an http(s) url", plugin.ErrInvalidConfiguration, endpoint.Name, cfg.Target)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUpstreamTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	client := &http.Client{Transport: otelhttp.NewTransport(transport)}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &HTTPProxyEndpoint{
		name:      endpoint.Name,
		cfg:       cfg,
		target:    target,
		transport: transport,
		client:    client,
		breaker:   newBreaker(cfg.CircuitBreaker),
	}, nil
}

func (e *HTTPProxyEndpoint) ID() string                   { return HTTPProxyID + ":" + e.name }
func (e *HTTPProxyEndpoint) SupportedApi() domain.ApiType { return domain.ApiTypeProxy }

func (e *HTTPProxyEndpoint) PreStop(context.Context) error { return nil }

// Stop closes idle backend connections.
func (e *HTTPProxyEndpoint) Stop(context.Context) error {
	e.transport.CloseIdleConnections()
	return nil
}

// Connect sends the request to the backend. Unreachable backends fail with
// 502, backends slower than the timeout with 504 and an open circuit with 503.
func (e *HTTPProxyEndpoint) Connect(ctx context.Context, ec *execution.Context) error {
	req := ec.Request()

	if err := e.breaker.allow(); err != nil {
		ec.Logger().Warn("endpoint circuit open", "endpoint", e.name)
		return execution.NewFailure(http.StatusServiceUnavailable, domain.KeyEndpointCircuitOpen, "Service unavailable")
	}

	body, length, err := outboundBody(req)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	target := e.targetURL(req)
	out, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("create upstream request: %w", err)
	}
	out.Header = make(http.Header, len(req.Headers))
	copyHeaders(out.Header, req.Headers)
	for k, v := range e.cfg.Headers {
		out.Header.Set(k, v)
	}
	if length >= 0 {
		out.ContentLength = length
	}
	out.Header.Del("Content-Length")
	if e.cfg.PropagateHost && req.Host != "" {
		out.Host = req.Host
	}
	if req.RemoteAddress != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+req.RemoteAddress)
		} else {
			out.Header.Set("X-Forwarded-For", req.RemoteAddress)
		}
	}

	ec.Logger().Debug("executing upstream HTTP request",
		"method", req.Method,
		"target_url", target,
		"timeout_ms", e.cfg.Timeout.Milliseconds(),
	)

	resp, err := e.client.Do(out)
	if err != nil {
		if ctx.Err() != nil {
			e.breaker.release()
		} else {
			e.breaker.record(true)
		}
		return e.failure(ctx, ec, target, err)
	}
	e.breaker.record(resp.StatusCode >= http.StatusInternalServerError)

	response := ec.Response()
	response.Status = resp.StatusCode
	response.Headers = make(http.Header, len(resp.Header))
	copyHeaders(response.Headers, resp.Header)
	response.Headers.Del("Content-Length")
	response.SetBodyStream(resp.Body)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
			attribute.String("gateway.endpoint", e.name),
			attribute.Int64("gateway.endpoint.timeout_ms", e.cfg.Timeout.Milliseconds()),
		)
		span.AddEvent("endpoint.http.complete")
	}
	return nil
}

func (e *HTTPProxyEndpoint) targetURL(req *execution.Request) string {
	u := *e.target
	if req.PathInfo != "" && req.PathInfo != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(req.PathInfo, "/")
	} else if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	query := u.Query()
	for k, values := range req.Parameters {
		for _, v := range values {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (e *HTTPProxyEndpoint) failure(ctx context.Context, ec *execution.Context, target string, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		ec.Logger().Warn("upstream request timed out", "target_url", target, "error", err)
		return execution.NewFailure(http.StatusGatewayTimeout, domain.KeyRequestTimeout, "Request timeout")
	}
	ec.Logger().Warn("upstream request failed", "target_url", target, "error", err)
	return execution.NewFailure(http.StatusBadGateway, domain.KeyUpstreamUnreachable, "Bad gateway")
}

// outboundBody returns the request body and its length, -1 when unknown.
func outboundBody(req *execution.Request) (io.Reader, int64, error) {
	b := req.Body()
	if b.Buffered() {
		data, err := b.Buffer()
		if err != nil {
			return nil, 0, err
		}
		if len(data) == 0 {
			return nil, 0, nil
		}
		return bytes.NewReader(data), int64(len(data)), nil
	}
	r, err := b.Reader()
	if err != nil {
		return nil, 0, err
	}
	length := int64(-1)
	if cl := req.Headers.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size >= 0 {
			length = size
		}
	}
	return r, length, nil
}

// copyHeaders copies headers from src to dst, filtering hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// isHopByHopHeader identifies headers that must not be forwarded (RFC 7230).
func isHopByHopHeader(header string) bool {
	_, ok := hopByHopHeaders[http.CanonicalHeaderKey(header)]
	return ok
}
