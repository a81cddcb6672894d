package processor

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

const securityID = "security-plan"

// SecurityPlan resolves the plan of the call and runs its security policy.
// A call for which no plan is resolvable is denied with 401.
type SecurityPlan struct {
	provider *policy.ChainProvider
}

// NewSecurityPlan creates the processor around a chain provider.
func NewSecurityPlan(provider *policy.ChainProvider) *SecurityPlan {
	return &SecurityPlan{provider: provider}
}

func (p *SecurityPlan) ID() string { return securityID }

func (p *SecurityPlan) Execute(ctx context.Context, ec *execution.Context) error {
	if skip, _ := ec.InternalAttribute(execution.InternalInvokerSkip).(bool); skip {
		return nil
	}
	chain, err := p.provider.Provide(ctx, ec, policy.OnRequest)
	if err != nil {
		return err
	}
	return chain.Execute(ctx, ec)
}
