package policy

import (
	"context"

	"github.com/polisai/polis-gateway/internal/plugin"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// Policy is an opaque unit of cross-cutting logic. A policy implements one or
// more of the phase interfaces below; a phase it does not implement is skipped.
type Policy interface {
	ID() string
}

// RequestPolicy acts on the inbound request.
type RequestPolicy interface {
	Policy
	OnRequest(ctx context.Context, pc execution.PolicyContext) error
}

// ResponsePolicy acts on the response before it is sent.
type ResponsePolicy interface {
	Policy
	OnResponse(ctx context.Context, pc execution.PolicyContext) error
}

// MessageRequestPolicy acts on every message published by the client.
// Returning a nil message drops it.
type MessageRequestPolicy interface {
	Policy
	OnMessageRequest(ctx context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error)
}

// MessageResponsePolicy acts on every message delivered to the client.
// Returning a nil message drops it.
type MessageResponsePolicy interface {
	Policy
	OnMessageResponse(ctx context.Context, pc execution.PolicyContext, msg *execution.Message) (*execution.Message, error)
}

// Metadata pairs a policy plugin id with its raw configuration.
type Metadata struct {
	// Policy is the plugin type id, optionally suffixed with @version.
	Policy string
	// Name identifies the step in hooks and logs; it defaults to Policy.
	Name             string
	Phase            execution.Phase
	Configuration    map[string]any
	Condition        string
	MessageCondition string
	// Key enables instance caching in Manager when not empty.
	Key string
}

// ID returns the component id used for hooks and logs.
func (m Metadata) ID() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Policy
}

// MetadataFromStep converts a flow step.
func MetadataFromStep(step domain.Step, phase execution.Phase) Metadata {
	return Metadata{
		Policy:           step.Policy,
		Name:             step.Name,
		Phase:            phase,
		Configuration:    step.Configuration,
		Condition:        step.Condition,
		MessageCondition: step.MessageCondition,
	}
}

// StreamType tells a chain provider which side of the exchange it serves.
type StreamType string

const (
	OnRequest  StreamType = "ON_REQUEST"
	OnResponse StreamType = "ON_RESPONSE"
)

// Factory creates policy instances from metadata.
type Factory interface {
	Create(meta Metadata) (Policy, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(meta Metadata) (Policy, error)

// Create implements Factory.
func (f FactoryFunc) Create(meta Metadata) (Policy, error) { return f(meta) }

// ErrInvalidConfiguration is returned by factories rejecting their configuration.
var ErrInvalidConfiguration = plugin.ErrInvalidConfiguration

// DecodeConfiguration decodes a raw configuration map into out, honouring its yaml tags.
func DecodeConfiguration(raw map[string]any, out any) error {
	return plugin.Decode(raw, out)
}
