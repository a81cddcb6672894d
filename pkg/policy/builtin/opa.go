package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// AttrPolicyRedact is set when a rego decision asks for redaction.
const AttrPolicyRedact = execution.AttrPrefix + "policy.redact"

// KeyPolicyDenied is the failure key of a blocking decision.
const KeyPolicyDenied = "POLICY_DENIED"

type opaConfig struct {
	Entrypoint      string            `yaml:"entrypoint"`
	Modules         map[string]string `yaml:"modules"`
	CacheMaxEntries int               `yaml:"cacheMaxEntries"`
	FailOpen        bool              `yaml:"failOpen"`
	DenyStatus      int               `yaml:"denyStatus"`
	DenyKey         string            `yaml:"denyKey"`
}

// OPA evaluates an embedded rego decision against the request.
type OPA struct {
	id     string
	cfg    opaConfig
	engine *Engine
	logger *slog.Logger
}

// NewOPA compiles the configured modules.
func NewOPA(meta policy.Metadata, logger *slog.Logger) (*OPA, error) {
	cfg := opaConfig{DenyStatus: http.StatusForbidden, DenyKey: KeyPolicyDenied}
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine, err := NewEngine(ctx, EngineOptions{
		Entrypoint:      cfg.Entrypoint,
		Modules:         cfg.Modules,
		CacheMaxEntries: cfg.CacheMaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", policy.ErrInvalidConfiguration, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OPA{id: meta.ID(), cfg: cfg, engine: engine, logger: logger}, nil
}

func (p *OPA) ID() string { return p.id }

func (p *OPA) OnRequest(ctx context.Context, pc execution.PolicyContext) error {
	decision, err := p.engine.Evaluate(ctx, p.input(pc))
	if err != nil {
		if p.cfg.FailOpen {
			pc.Logger().Warn("opa evaluation failed, allowing due to fail-open", "policy", p.id, "error", err)
			return nil
		}
		return fmt.Errorf("opa %s: %w", p.id, err)
	}

	pc.Logger().Debug("opa decision", "policy", p.id, "action", string(decision.Action), "reason", decision.Reason)
	switch decision.Action {
	case ActionRedact:
		pc.SetAttribute(AttrPolicyRedact, true)
		return nil
	case ActionBlock:
		message := decision.Reason
		if message == "" {
			message = http.StatusText(p.cfg.DenyStatus)
		}
		return pc.InterruptWith(execution.ExecutionFailure{
			StatusCode: p.cfg.DenyStatus,
			Key:        p.cfg.DenyKey,
			Message:    message,
			Parameters: toParameters(decision.Metadata),
		})
	default:
		return nil
	}
}

func (p *OPA) input(pc execution.PolicyContext) Input {
	req := pc.Request()
	headers := make(map[string]string, len(req.Headers))
	for name, values := range telemetry.RedactHeaders(req.Headers) {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(name)] = values[0]
		}
	}
	attrs := scalarAttributes(pc.Attributes())
	return Input{
		ApiID:      stringAttr(attrs, execution.AttrApi),
		PlanID:     stringAttr(attrs, execution.AttrPlan),
		Subject:    stringAttr(attrs, execution.AttrUser),
		Method:     req.Method,
		Path:       req.PathInfo,
		Headers:    headers,
		Attributes: attrs,
	}
}

func scalarAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch v.(type) {
		case string, bool, int, int64, float64:
			out[k] = v
		}
	}
	return out
}

func stringAttr(attrs map[string]any, name string) string {
	s, _ := attrs[name].(string)
	return s
}

func toParameters(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
