package policy

import (
	"context"
	"fmt"

	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// ConditionalPolicy runs its delegate only when the step condition holds.
// Message phases use the message condition, evaluated with the message bound
// to the "message" variable.
type ConditionalPolicy struct {
	delegate         Policy
	id               string
	condition        string
	messageCondition string
}

// NewConditionalPolicy wraps p.
func NewConditionalPolicy(p Policy, id, condition, messageCondition string) *ConditionalPolicy {
	return &ConditionalPolicy{delegate: p, id: id, condition: condition, messageCondition: messageCondition}
}

// ID implements Policy.
func (c *ConditionalPolicy) ID() string { return c.id }

// Unwrap returns the wrapped policy.
func (c *ConditionalPolicy) Unwrap() Policy { return c.delegate }

// OnRequest implements RequestPolicy.
func (c *ConditionalPolicy) OnRequest(ctx context.Context, pc execution.PolicyContext) error {
	p, ok := c.delegate.(RequestPolicy)
	if !ok {
		return nil
	}
	run, err := c.holds(pc.TemplateEngine(), c.condition)
	if err != nil || !run {
		return err
	}
	return p.OnRequest(ctx, pc)
}

// OnResponse implements ResponsePolicy.
func (c *ConditionalPolicy) OnResponse(ctx context.Context, pc execution.PolicyContext) error {
	p, ok := c.delegate.(ResponsePolicy)
	if !ok {
		return nil
	}
	run, err := c.holds(pc.TemplateEngine(), c.condition)
	if err != nil || !run {
		return err
	}
	return p.OnResponse(ctx, pc)
}

// OnMessageRequest implements MessageRequestPolicy.
func (c *ConditionalPolicy) OnMessageRequest(ctx context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	p, ok := c.delegate.(MessageRequestPolicy)
	if !ok {
		return msg, nil
	}
	run, err := c.holdsForMessage(pc, msg)
	if err != nil {
		return nil, err
	}
	if !run {
		return msg, nil
	}
	return p.OnMessageRequest(ctx, pc, msg)
}

// OnMessageResponse implements MessageResponsePolicy.
func (c *ConditionalPolicy) OnMessageResponse(ctx context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error) {
	p, ok := c.delegate.(MessageResponsePolicy)
	if !ok {
		return msg, nil
	}
	run, err := c.holdsForMessage(pc, msg)
	if err != nil {
		return nil, err
	}
	if !run {
		return msg, nil
	}
	return p.OnMessageResponse(ctx, pc, msg)
}

func (c *ConditionalPolicy) holdsForMessage(pc execution.PolicyContext, msg *execution.Message) (bool, error) {
	if c.messageCondition == "" {
		return c.holds(pc.TemplateEngine(), c.condition)
	}
	engine := pc.TemplateEngine().With(map[string]any{el.VarMessage: MessageView(msg)})
	return c.holds(engine, c.messageCondition)
}

func (c *ConditionalPolicy) holds(engine *el.TemplateEngine, condition string) (bool, error) {
	ok, err := engine.EvalBool(condition)
	if err != nil {
		return false, fmt.Errorf("policy %s condition: %w", c.id, err)
	}
	return ok, nil
}

// MessageView exposes a message to expressions.
func MessageView(msg *execution.Message) map[string]any {
	if msg == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":            msg.ID,
		"correlationId": msg.CorrelationID,
		"headers":       msg.Headers,
		"metadata":      msg.Metadata,
		"attributes":    msg.Attributes,
		"content":       string(msg.Content),
		"error":         msg.Error,
	}
}
