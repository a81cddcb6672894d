package builtin

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

// Passthrough continues every phase untouched.
type Passthrough struct {
	id string
}

// NewPassthrough creates the policy.
func NewPassthrough(meta policy.Metadata) (policy.Policy, error) {
	return &Passthrough{id: meta.ID()}, nil
}

func (p *Passthrough) ID() string { return p.id }

func (p *Passthrough) OnRequest(context.Context, execution.PolicyContext) error { return nil }

func (p *Passthrough) OnResponse(context.Context, execution.PolicyContext) error { return nil }

func (p *Passthrough) OnMessageRequest(_ context.Context, _ execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return msg, nil
}

func (p *Passthrough) OnMessageResponse(_ context.Context, _ execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	return msg, nil
}
