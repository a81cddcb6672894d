package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

// HeaderOperation is a single header mutation.
type HeaderOperation struct {
	Action  string
	Header  string
	Values  []string
	Headers []string
	From    string
	To      string
}

type rawHeaderOperation struct {
	Action  string   `yaml:"action"`
	Header  string   `yaml:"header"`
	Value   string   `yaml:"value"`
	Values  []string `yaml:"values"`
	Headers any      `yaml:"headers"`
	From    string   `yaml:"from"`
	To      string   `yaml:"to"`
}

type transformHeadersConfig struct {
	Operations []rawHeaderOperation `yaml:"operations"`
}

// TransformHeaders mutates request headers in the request phase, response
// headers in the response phase and message headers in message phases.
// Values are templates rendered with the call template engine.
type TransformHeaders struct {
	id  string
	ops []HeaderOperation
}

// NewTransformHeaders parses the operations list.
func NewTransformHeaders(meta policy.Metadata) (policy.Policy, error) {
	var cfg transformHeadersConfig
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	ops := make([]HeaderOperation, 0, len(cfg.Operations))
	for idx, raw := range cfg.Operations {
		parsed, err := parseHeaderOperation(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", policy.ErrInvalidConfiguration, idx, err)
		}
		ops = append(ops, parsed...)
	}
	return &TransformHeaders{id: meta.ID(), ops: ops}, nil
}

func (p *TransformHeaders) ID() string { return p.id }

func (p *TransformHeaders) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	return applyHeaderOperations(p.ops, pc.Request().Headers, pc.TemplateEngine())
}

func (p *TransformHeaders) OnResponse(_ context.Context, pc execution.PolicyContext) error {
	return applyHeaderOperations(p.ops, pc.Response().Headers, pc.TemplateEngine())
}

func (p *TransformHeaders) OnMessageRequest(_ context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return p.onMessage(pc, msg)
}

func (p *TransformHeaders) OnMessageResponse(_ context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return p.onMessage(pc, msg)
}

func (p *TransformHeaders) onMessage(pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	if msg.Headers == nil {
		msg.Headers = make(map[string][]string)
	}
	engine := pc.TemplateEngine().With(map[string]any{el.VarMessage: policy.MessageView(msg)})
	if err := applyHeaderOperations(p.ops, http.Header(msg.Headers), engine); err != nil {
		return nil, err
	}
	return msg, nil
}

func parseHeaderOperation(raw rawHeaderOperation) ([]HeaderOperation, error) {
	action := strings.ToLower(strings.TrimSpace(raw.Action))
	switch action {
	case "":
		return nil, errors.New("missing action")
	case "remove":
		headers := headerList(raw.Headers)
		if h := strings.TrimSpace(raw.Header); h != "" {
			headers = append(headers, h)
		}
		if len(headers) == 0 {
			return nil, errors.New("remove requires headers")
		}
		return []HeaderOperation{{Action: action, Headers: headers}}, nil
	case "set", "add":
		if m, ok := raw.Headers.(map[string]any); ok {
			return operationsFromMap(action, m), nil
		}
		header := strings.TrimSpace(raw.Header)
		if header == "" {
			return nil, fmt.Errorf("%s requires a headers map or header field", action)
		}
		values := nonBlank(raw.Values)
		if len(values) == 0 && strings.TrimSpace(raw.Value) != "" {
			values = []string{raw.Value}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%s requires value", action)
		}
		return []HeaderOperation{{Action: action, Header: header, Values: values}}, nil
	case "rename":
		from, to := strings.TrimSpace(raw.From), strings.TrimSpace(raw.To)
		if from == "" || to == "" {
			return nil, errors.New("rename requires from and to")
		}
		return []HeaderOperation{{Action: action, From: from, To: to}}, nil
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

func operationsFromMap(action string, values map[string]any) []HeaderOperation {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]HeaderOperation, 0, len(keys))
	for _, key := range keys {
		var vals []string
		switch v := values[key].(type) {
		case string:
			vals = nonBlank([]string{v})
		case []any:
			vals = headerList(v)
		default:
			if v != nil {
				vals = []string{fmt.Sprint(v)}
			}
		}
		if len(vals) == 0 {
			continue
		}
		ops = append(ops, HeaderOperation{Action: action, Header: key, Values: vals})
	}
	return ops
}

func headerList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return nonBlank([]string{v})
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return nonBlank(out)
	case []string:
		return nonBlank(v)
	default:
		return nil
	}
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func applyHeaderOperations(ops []HeaderOperation, headers http.Header, engine *el.TemplateEngine) error {
	if headers == nil {
		return nil
	}
	for _, op := range ops {
		switch op.Action {
		case "remove":
			for _, name := range op.Headers {
				headers.Del(strings.TrimSpace(name))
			}
		case "set", "add":
			header := http.CanonicalHeaderKey(strings.TrimSpace(op.Header))
			if op.Action == "set" {
				headers.Del(header)
			}
			for _, value := range op.Values {
				rendered, err := engine.Render(value)
				if err != nil {
					return fmt.Errorf("header %s: %w", header, err)
				}
				if rendered != "" {
					headers.Add(header, rendered)
				}
			}
		case "rename":
			values := headers.Values(op.From)
			headers.Del(op.From)
			for _, value := range values {
				headers.Add(op.To, value)
			}
		}
	}
	return nil
}
