package policy

import (
	"context"
	"net/http"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// DirectFailureID is the component id of the direct failure chain.
const DirectFailureID = "direct-failure"

// directFailure stops every phase with a fixed failure.
type directFailure struct {
	failure execution.ExecutionFailure
}

func (d directFailure) ID() string { return DirectFailureID }

func (d directFailure) OnRequest(_ context.Context, pc execution.PolicyContext) error {
	return pc.InterruptWith(d.failure)
}

func (d directFailure) OnResponse(_ context.Context, pc execution.PolicyContext) error {
	return pc.InterruptWith(d.failure)
}

// NewDirectFailureChain returns a chain that fails with failure as soon as it
// runs, without resolving any policy.
func NewDirectFailureChain(id string, phase execution.Phase, failure execution.ExecutionFailure, cfg ChainConfig) *Chain {
	return NewChain(id, []Policy{directFailure{failure: failure}}, phase, cfg)
}

// MissingPlanFailure is the failure of a secured request no plan could serve.
func MissingPlanFailure() execution.ExecutionFailure {
	return execution.ExecutionFailure{
		StatusCode: http.StatusUnauthorized,
		Key:        domain.KeyMissingSecuredRequestPlan,
		Message:    http.StatusText(http.StatusUnauthorized),
	}
}
