package policy

import (
	"fmt"
	"sync"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// ChainFactory builds the policy chain of one flow for one phase.
type ChainFactory interface {
	Create(flowChainID string, flow *domain.Flow, phase execution.Phase) (*Chain, error)
}

type flowKey struct {
	flow  *domain.Flow
	phase execution.Phase
}

// FlowChainFactory is the ChainFactory of a deployed API. Policy instances are
// created once per flow and phase; every call gets a fresh Chain around them.
// Flows are identified by pointer and must not change after deployment.
type FlowChainFactory struct {
	manager *Manager
	cfg     ChainConfig

	mu    sync.RWMutex
	cache map[flowKey][]Policy
}

// NewFlowChainFactory creates a factory.
func NewFlowChainFactory(manager *Manager, cfg ChainConfig) *FlowChainFactory {
	return &FlowChainFactory{
		manager: manager,
		cfg:     cfg,
		cache:   make(map[flowKey][]Policy),
	}
}

// Create implements ChainFactory.
func (f *FlowChainFactory) Create(flowChainID string, flow *domain.Flow, phase execution.Phase) (*Chain, error) {
	policies, err := f.policies(flow, phase)
	if err != nil {
		return nil, err
	}
	return NewChain(chainID(flowChainID, flow, phase), policies, phase, f.cfg), nil
}

func (f *FlowChainFactory) policies(flow *domain.Flow, phase execution.Phase) ([]Policy, error) {
	key := flowKey{flow: flow, phase: phase}

	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	steps := StepsFor(flow, phase)
	policies := make([]Policy, 0, len(steps))
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		p, err := f.manager.Create(MetadataFromStep(step, phase))
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", flowName(flow), err)
		}
		policies = append(policies, p)
	}

	f.mu.Lock()
	if existing, ok := f.cache[key]; ok {
		policies = existing
	} else {
		f.cache[key] = policies
	}
	f.mu.Unlock()
	return policies, nil
}

// StepsFor returns the steps of flow that apply to phase.
func StepsFor(flow *domain.Flow, phase execution.Phase) []domain.Step {
	switch phase {
	case execution.PhaseRequest:
		return flow.Request
	case execution.PhaseResponse:
		return flow.Response
	case execution.PhaseMessageRequest:
		return flow.Publish
	case execution.PhaseMessageResponse:
		return flow.Subscribe
	default:
		return nil
	}
}

func chainID(flowChainID string, flow *domain.Flow, phase execution.Phase) string {
	return flowChainID + "-" + flowName(flow) + "-" + string(phase)
}

func flowName(flow *domain.Flow) string {
	switch {
	case flow.Name != "":
		return flow.Name
	case flow.ID != "":
		return flow.ID
	default:
		return "unnamed"
	}
}
