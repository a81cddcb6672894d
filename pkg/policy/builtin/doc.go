// Package builtin provides the policy plugins shipped with the gateway.
package builtin

import (
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/policy"
)

// Plugin type ids.
const (
	PassthroughID      = "passthrough"
	TransformHeadersID = "transform-headers"
	InterruptWithID    = "interrupt-with"
	MockResponseID     = "mock-response"
	OPAID              = "opa"
	AssignAttributesID = "assign-attributes"
)

// Register adds every built-in policy to r.
func Register(r *policy.Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.RegisterFunc(PassthroughID, "", NewPassthrough, "noop")
	r.RegisterFunc(TransformHeadersID, "", NewTransformHeaders, "transform.headers")
	r.RegisterFunc(InterruptWithID, "", NewInterruptWith, "deny")
	r.RegisterFunc(MockResponseID, "", NewMockResponse, "mock")
	r.RegisterFunc(OPAID, "", func(meta policy.Metadata) (policy.Policy, error) {
		p, err := NewOPA(meta, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}, "policy.opa")
	r.RegisterFunc(AssignAttributesID, "", NewAssignAttributes)
}
