package processor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

const (
	logRequestID  = "log-request"
	logResponseID = "log-response"
)

// LogRecord is the request log of one call, filled in two steps.
type LogRecord struct {
	RequestID       string
	ApiID           string
	Method          string
	URI             string
	Start           time.Time
	Status          int
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	RequestBody     string
	ResponseBody    string
}

// LogRequest starts the request log of calls selected by the API logging
// configuration.
type LogRequest struct {
	cfg domain.Logging
}

// NewLogRequest creates the processor.
func NewLogRequest(cfg domain.Logging) *LogRequest {
	return &LogRequest{cfg: cfg}
}

func (p *LogRequest) ID() string { return logRequestID }

func (p *LogRequest) Execute(_ context.Context, ec *execution.Context) error {
	if p.cfg.Condition != "" {
		ok, err := ec.TemplateEngine().EvalBool(p.cfg.Condition)
		if err != nil {
			ec.Logger().Warn("logging condition failed, call not logged", "error", err)
			return nil
		}
		if !ok {
			return nil
		}
	}

	req := ec.Request()
	record := &LogRecord{
		RequestID: req.ID,
		Method:    req.Method,
		URI:       req.Path,
		Start:     req.Timestamp,
	}
	if api, ok := ec.Attribute(execution.AttrApi).(string); ok {
		record.ApiID = api
	}
	if len(req.Parameters) > 0 {
		record.URI += "?" + req.Parameters.Encode()
	}
	if p.cfg.Headers {
		record.RequestHeaders = telemetry.RedactHeaders(req.Headers)
	}
	if p.cfg.Payloads {
		if data, err := req.Body().Buffer(); err == nil {
			record.RequestBody = string(data)
		}
	}
	ec.SetInternalAttribute(execution.InternalLogRecord, record)
	return nil
}

// LogResponse completes and writes the record started by LogRequest.
type LogResponse struct {
	cfg    domain.Logging
	logger *slog.Logger
}

// NewLogResponse creates the processor writing to logger.
func NewLogResponse(cfg domain.Logging, logger *slog.Logger) *LogResponse {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResponse{cfg: cfg, logger: logger}
}

func (p *LogResponse) ID() string { return logResponseID }

func (p *LogResponse) Execute(ctx context.Context, ec *execution.Context) error {
	record, ok := ec.InternalAttribute(execution.InternalLogRecord).(*LogRecord)
	if !ok {
		return nil
	}
	ec.RemoveInternalAttribute(execution.InternalLogRecord)

	resp := ec.Response()
	record.Status = resp.Status
	if p.cfg.Headers {
		record.ResponseHeaders = telemetry.RedactHeaders(resp.Headers)
	}
	if p.cfg.Payloads && resp.Body().Buffered() {
		data, _ := resp.Body().Buffer()
		record.ResponseBody = string(data)
	}

	attrs := []slog.Attr{
		slog.String("request_id", record.RequestID),
		slog.String("api_id", record.ApiID),
		slog.String("method", record.Method),
		slog.String("uri", record.URI),
		slog.Int("status", record.Status),
		slog.Int64("duration_ms", time.Since(record.Start).Milliseconds()),
	}
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if p.cfg.Headers {
		attrs = append(attrs,
			slog.Any("request_headers", record.RequestHeaders),
			slog.Any("response_headers", record.ResponseHeaders),
		)
	}
	if p.cfg.Payloads {
		attrs = append(attrs,
			slog.String("request_body", record.RequestBody),
			slog.String("response_body", record.ResponseBody),
		)
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "api call", attrs...)
	return nil
}
