package builtin

import (
	"context"
	"fmt"

	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

type attributeAssignment struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type assignAttributesConfig struct {
	Attributes []attributeAssignment `yaml:"attributes"`
}

// AssignAttributes sets context attributes, or message attributes in message
// phases, from rendered templates.
type AssignAttributes struct {
	id          string
	assignments []attributeAssignment
}

// NewAssignAttributes creates the policy.
func NewAssignAttributes(meta policy.Metadata) (policy.Policy, error) {
	var cfg assignAttributesConfig
	if err := policy.DecodeConfiguration(meta.Configuration, &cfg); err != nil {
		return nil, err
	}
	for i, a := range cfg.Attributes {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: attribute %d has no name", policy.ErrInvalidConfiguration, i)
		}
	}
	return &AssignAttributes{id: meta.ID(), assignments: cfg.Attributes}, nil
}

func (p *AssignAttributes) ID() string { return p.id }

func (p *AssignAttributes) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	return p.assign(pc.TemplateEngine(), pc.SetAttribute)
}

func (p *AssignAttributes) OnResponse(_ context.Context, pc execution.PolicyContext) error {
	return p.assign(pc.TemplateEngine(), pc.SetAttribute)
}

func (p *AssignAttributes) OnMessageRequest(_ context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return p.onMessage(pc, msg)
}

func (p *AssignAttributes) OnMessageResponse(_ context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return p.onMessage(pc, msg)
}

func (p *AssignAttributes) onMessage(pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	if msg.Attributes == nil {
		msg.Attributes = make(map[string]any)
	}
	engine := pc.TemplateEngine().With(map[string]any{el.VarMessage: policy.MessageView(msg)})
	err := p.assign(engine, func(name string, value any) { msg.Attributes[name] = value })
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *AssignAttributes) assign(engine *el.TemplateEngine, set func(string, any)) error {
	for _, a := range p.assignments {
		value, err := engine.Render(a.Value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		set(a.Name, value)
	}
	return nil
}
