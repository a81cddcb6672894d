// Package execution holds the per-call state shared by every unit of work in
// the gateway: request, response, attributes, components and the template engine.
package execution

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/polisai/polis-gateway/pkg/el"
)

// PolicyContext is the view of a call handed to policies. It exposes public
// attributes only; internal attributes belong to the engine.
type PolicyContext interface {
	ID() string
	Request() *Request
	Response() *Response
	Attribute(name string) any
	SetAttribute(name string, value any)
	RemoveAttribute(name string)
	Attributes() map[string]any
	Component(t reflect.Type) (any, error)
	TemplateEngine() *el.TemplateEngine
	Interrupt() error
	InterruptWith(failure ExecutionFailure) error
	Logger() *slog.Logger
}

// Config wires the collaborators of a Context.
type Config struct {
	Components        ComponentProvider
	Evaluator         *el.Evaluator
	TemplateProviders []el.VariableProvider
	Logger            *slog.Logger
}

// Context is the mutable state of one inbound call. It is owned by the
// goroutine serving that call and must not be shared.
type Context struct {
	request  *Request
	response *Response

	attributes map[string]any
	internal   map[string]any

	components ComponentProvider
	evaluator  *el.Evaluator
	providers  []el.VariableProvider
	engine     *el.TemplateEngine

	logger    *slog.Logger
	timestamp time.Time
}

var defaultEvaluator = el.MustNewEvaluator()

// NewContext creates the context of a call.
func NewContext(req *Request, resp *Response, cfg Config) *Context {
	if req == nil {
		req = NewRequest("GET", "/", nil, nil)
	}
	if resp == nil {
		resp = NewResponse()
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = defaultEvaluator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		request:    req,
		response:   resp,
		attributes: make(map[string]any),
		internal:   make(map[string]any),
		components: cfg.Components,
		evaluator:  evaluator,
		providers:  cfg.TemplateProviders,
		logger:     logger.With("request_id", req.ID),
		timestamp:  time.Now(),
	}
}

// ID returns the request id, which identifies the context in logs.
func (c *Context) ID() string { return c.request.ID }

// Request returns the inbound request.
func (c *Context) Request() *Request { return c.request }

// Response returns the response under construction.
func (c *Context) Response() *Response { return c.response }

// Timestamp returns the creation time of the context.
func (c *Context) Timestamp() time.Time { return c.timestamp }

// Logger returns a logger scoped to the call.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Attribute returns a public attribute, or nil.
func (c *Context) Attribute(name string) any { return c.attributes[name] }

// SetAttribute sets a public attribute. A nil value removes it.
func (c *Context) SetAttribute(name string, value any) {
	if value == nil {
		delete(c.attributes, name)
		return
	}
	c.attributes[name] = value
}

// RemoveAttribute deletes a public attribute.
func (c *Context) RemoveAttribute(name string) { delete(c.attributes, name) }

// Attributes returns a copy of the public attributes.
func (c *Context) Attributes() map[string]any {
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

// InternalAttribute returns an engine-only attribute, or nil.
func (c *Context) InternalAttribute(name string) any { return c.internal[name] }

// SetInternalAttribute sets an engine-only attribute. A nil value removes it.
func (c *Context) SetInternalAttribute(name string, value any) {
	if value == nil {
		delete(c.internal, name)
		return
	}
	c.internal[name] = value
}

// RemoveInternalAttribute deletes an engine-only attribute.
func (c *Context) RemoveInternalAttribute(name string) { delete(c.internal, name) }

// Component resolves a shared service by type.
func (c *Context) Component(t reflect.Type) (any, error) {
	if c.components != nil {
		if v, ok := c.components.Lookup(t); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, t)
}

// TemplateEngine returns the engine of the call, building it on first use
// from the context itself and every registered variable provider.
func (c *Context) TemplateEngine() *el.TemplateEngine {
	if c.engine != nil {
		return c.engine
	}
	engine := el.NewTemplateEngine(c.evaluator)
	engine.Set(el.VarRequest, func() any { return requestView(c.request) })
	engine.Set(el.VarResponse, func() any { return responseView(c.response) })
	engine.Set(el.VarContext, func() any { return map[string]any{"attributes": c.Attributes()} })
	for _, p := range c.providers {
		p.Provide(engine)
	}
	c.engine = engine
	return engine
}

// Interrupt returns the signal that stops the current chain without failure.
func (c *Context) Interrupt() error {
	return ErrInterrupted
}

// InterruptWith returns the signal that stops the current chain with failure.
func (c *Context) InterruptWith(failure ExecutionFailure) error {
	return &FailureError{Failure: failure}
}

func requestView(r *Request) map[string]any {
	view := map[string]any{
		"id":            r.ID,
		"transactionId": r.TransactionID,
		"method":        r.Method,
		"scheme":        r.Scheme,
		"host":          r.Host,
		"path":          r.Path,
		"pathInfo":      r.PathInfo,
		"contextPath":   r.ContextPath,
		"headers":       map[string][]string(r.Headers),
		"params":        map[string][]string(r.Parameters),
		"pathParams":    r.PathParameters,
		"remoteAddress": r.RemoteAddress,
		"timestamp":     r.Timestamp.UnixMilli(),
	}
	if b := r.Body(); b.Buffered() {
		data, _ := b.Buffer()
		view["content"] = string(data)
	}
	return view
}

func responseView(r *Response) map[string]any {
	view := map[string]any{
		"status":  r.Status,
		"reason":  r.Reason,
		"headers": map[string][]string(r.Headers),
	}
	if b := r.Body(); b.Buffered() {
		data, _ := b.Buffer()
		view["content"] = string(data)
	}
	return view
}
