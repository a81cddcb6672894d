package reactor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/processor"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// Handler serves HTTP calls through the reactors of a Registry.
type Handler struct {
	registry *Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewHandler creates the gateway HTTP handler.
func NewHandler(registry *Registry, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if registry == nil {
		panic("reactor: registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, metrics: metrics, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	ctx := r.Context()

	req := buildRequest(r)

	reactor, contextPath, ok := h.registry.Resolve(r.Host, req.Path)
	if !ok {
		h.logger.Debug("no api for request", "host", r.Host, "path", req.Path)
		ec := execution.NewContext(req, nil, execution.Config{Logger: h.logger})
		ec.SetInternalAttribute(execution.InternalFailure,
			execution.ExecutionFailure{StatusCode: http.StatusNotFound, Key: domain.KeyNoApi, Message: "No context-path matches the request URI."})
		if err := (processor.SimpleFailure{}).Execute(ctx, ec); err != nil {
			h.logger.Error("failed to render failure", "error", err)
		}
		h.write(ctx, rec, ec)
		h.metrics.RecordRequest("", r.Method, rec.status(), time.Since(start))
		return
	}

	req.ContextPath = contextPath
	req.PathInfo = pathInfo(req.Path, contextPath)

	ec := reactor.NewContext(req)
	ec.SetInternalAttribute(execution.InternalListenerType, domain.ListenerHTTP)

	if err := reactor.Handle(ctx, ec); err != nil {
		if errors.Is(err, ErrNotStarted) {
			rec.WriteHeader(http.StatusServiceUnavailable)
		}
		ec.Logger().Debug("call not completed", "api_id", reactor.api.ID, "error", err)
		h.metrics.RecordRequest(reactor.api.ID, r.Method, rec.status(), time.Since(start))
		return
	}

	h.write(ctx, rec, ec)
	h.metrics.RecordRequest(reactor.api.ID, r.Method, rec.status(), time.Since(start))
}

// write sends the final response of ec: headers, then the streamer or the
// body, then trailers.
func (h *Handler) write(ctx context.Context, w *statusRecorder, ec *execution.Context) {
	resp := ec.Response()
	dst := w.Header()
	for k, v := range resp.Headers {
		dst[k] = append([]string(nil), v...)
	}
	for k := range resp.Trailers {
		dst.Add("Trailer", k)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if streamer := resp.Streamer(); streamer != nil {
		dst.Del("Content-Length")
		w.WriteHeader(status)
		fw := newFlushCountingWriter(w)
		if err := streamer(ctx, fw, fw.Flush); err != nil && ctx.Err() == nil {
			ec.Logger().Warn("response stream ended with error", "error", err, "bytes", fw.count)
		}
		h.writeTrailers(w, resp)
		return
	}

	body := resp.Body()
	if body.Buffered() {
		data, _ := body.Buffer()
		w.WriteHeader(status)
		if len(data) > 0 {
			if _, err := w.Write(data); err != nil {
				ec.Logger().Debug("failed to write response body", "error", err)
			}
		}
		h.writeTrailers(w, resp)
		return
	}

	reader, err := body.Reader()
	w.WriteHeader(status)
	if err != nil || reader == nil {
		return
	}
	defer reader.Close()
	fw := newFlushCountingWriter(w)
	if _, err := io.Copy(fw, reader); err != nil && ctx.Err() == nil {
		ec.Logger().Warn("failed to stream response body", "error", err, "bytes", fw.count)
	}
	h.writeTrailers(w, resp)
}

func (h *Handler) writeTrailers(w http.ResponseWriter, resp *execution.Response) {
	for k, v := range resp.Trailers {
		for _, value := range v {
			w.Header().Add(k, value)
		}
	}
}

// buildRequest converts the inbound request. An empty body is dropped so
// that connectors see no body rather than a zero-length stream.
func buildRequest(r *http.Request) *execution.Request {
	var body io.ReadCloser
	if r.Body != nil && r.Body != http.NoBody && (r.ContentLength != 0 || len(r.TransferEncoding) > 0) {
		body = r.Body
	}
	req := execution.NewRequest(r.Method, r.URL.Path, r.Header.Clone(), body)
	req.ID = uuid.NewString()
	req.Host = r.Host
	req.Scheme = "http"
	if r.TLS != nil {
		req.Scheme = "https"
	}
	if r.URL.RawQuery != "" {
		req.Parameters = r.URL.Query()
	}
	req.RemoteAddress = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.RemoteAddress = host
	}
	return req
}

func pathInfo(path, contextPath string) string {
	if contextPath == "/" {
		return path
	}
	info := strings.TrimPrefix(path, contextPath)
	if info == "" {
		return "/"
	}
	return info
}

// statusRecorder wraps http.ResponseWriter to prevent multiple WriteHeader calls.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.ResponseWriter.WriteHeader(code)
		r.code = code
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so connectors can take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

// flushCountingWriter counts bytes written and flushes after every write.
type flushCountingWriter struct {
	io.Writer
	flusher http.Flusher
	count   int64
}

func newFlushCountingWriter(w http.ResponseWriter) *flushCountingWriter {
	fw := &flushCountingWriter{Writer: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (w *flushCountingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.count += int64(n)
	if err == nil {
		w.Flush()
	}
	return n, err
}

func (w *flushCountingWriter) Flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
