package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

const (
	responseTemplateID = "response-template"
	simpleFailureID    = "simple-failure"

	// DefaultTemplateKey is the template used for failure keys without one.
	DefaultTemplateKey = "DEFAULT"
	// WildcardMediaType is the template used for unlisted media types.
	WildcardMediaType = "*/*"
)

// FailureOf returns the failure recorded on the context, defaulting to a 500.
func FailureOf(ec *execution.Context) execution.ExecutionFailure {
	failure, _ := ec.InternalAttribute(execution.InternalFailure).(execution.ExecutionFailure)
	if failure.StatusCode == 0 {
		failure.StatusCode = http.StatusInternalServerError
	}
	return failure
}

// SimpleFailure renders the failure as JSON, or as text for clients that do
// not accept JSON. A failure with its own content type is sent verbatim.
type SimpleFailure struct{}

func (SimpleFailure) ID() string { return simpleFailureID }

func (SimpleFailure) Execute(ctx context.Context, ec *execution.Context) error {
	failure := FailureOf(ec)
	resp := ec.Response()
	resp.Status = failure.StatusCode

	message := failure.Message
	if message == "" {
		message = http.StatusText(failure.StatusCode)
	}

	if failure.ContentType != "" {
		resp.Headers.Set("Content-Type", failure.ContentType)
		resp.SetBody([]byte(failure.Message))
		return nil
	}

	req := ec.Request()
	if len(req.Headers.Values("Accept")) > 0 &&
		!req.AcceptsMediaType("application/json") &&
		!req.AcceptsMediaType(WildcardMediaType) {
		resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
		resp.SetBody([]byte(message))
		return nil
	}

	body := domain.ErrorResponse{
		Code:       failure.Key,
		Message:    message,
		StatusCode: failure.StatusCode,
	}
	body.TraceID = telemetry.TraceID(ctx)
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	resp.Headers.Set("Content-Type", "application/json")
	resp.SetBody(data)
	return nil
}

// ResponseTemplate renders failures through the response templates of the
// API. The template is chosen by failure key, falling back to DEFAULT, then by
// the first accepted media type, falling back to */*. Failures without a
// template are rendered by SimpleFailure.
type ResponseTemplate struct {
	templates map[string]map[string]domain.ResponseTemplate
	fallback  Processor
}

// NewResponseTemplate creates the processor.
func NewResponseTemplate(templates map[string]map[string]domain.ResponseTemplate) *ResponseTemplate {
	return &ResponseTemplate{templates: templates, fallback: SimpleFailure{}}
}

func (p *ResponseTemplate) ID() string { return responseTemplateID }

func (p *ResponseTemplate) Execute(ctx context.Context, ec *execution.Context) error {
	failure := FailureOf(ec)
	tpl, mediaType, ok := p.lookup(failure.Key, ec.Request())
	if !ok {
		return p.fallback.Execute(ctx, ec)
	}

	resp := ec.Response()
	resp.Status = failure.StatusCode
	if tpl.Status != 0 {
		resp.Status = tpl.Status
	}
	if mediaType != WildcardMediaType {
		resp.Headers.Set("Content-Type", mediaType)
	}
	for k, v := range tpl.Headers {
		resp.Headers.Set(k, v)
	}

	engine := ec.TemplateEngine().With(map[string]any{
		el.VarError: map[string]any{
			"key":        failure.Key,
			"message":    failure.Message,
			"status":     failure.StatusCode,
			"parameters": failure.Parameters,
		},
	})
	body, err := engine.Render(tpl.Body)
	if err != nil {
		ec.Logger().Warn("response template rendering failed, sending it raw", "key", failure.Key, "error", err)
		body = tpl.Body
	}
	resp.SetBody([]byte(body))
	return nil
}

func (p *ResponseTemplate) lookup(key string, req *execution.Request) (domain.ResponseTemplate, string, bool) {
	byMedia, ok := p.templates[key]
	if !ok {
		byMedia, ok = p.templates[DefaultTemplateKey]
	}
	if !ok {
		return domain.ResponseTemplate{}, "", false
	}
	for _, mediaType := range acceptedMediaTypes(req) {
		if tpl, ok := byMedia[mediaType]; ok && mediaType != WildcardMediaType {
			return tpl, mediaType, true
		}
	}
	if tpl, ok := byMedia[WildcardMediaType]; ok {
		return tpl, WildcardMediaType, true
	}
	return domain.ResponseTemplate{}, "", false
}

// acceptedMediaTypes lists the Accept header media types in client order.
func acceptedMediaTypes(req *execution.Request) []string {
	var out []string
	for _, value := range req.Headers.Values("Accept") {
		for _, part := range strings.Split(value, ",") {
			if mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0]); mt != "" {
				out = append(out, strings.ToLower(mt))
			}
		}
	}
	return out
}
