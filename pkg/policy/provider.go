package policy

import (
	"context"
	"fmt"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// Resolver decides which policies apply to a call. A false second return
// value means that resolution did not happen at all, as opposed to resolving
// an empty list.
type Resolver interface {
	Resolve(ctx context.Context, ec *execution.Context, streamType StreamType) ([]Metadata, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ec *execution.Context, streamType StreamType) ([]Metadata, bool)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, ec *execution.Context, streamType StreamType) ([]Metadata, bool) {
	return f(ctx, ec, streamType)
}

// ChainProvider builds chains from a Resolver. When nothing is resolved for
// the request stream the call is denied: the provided chain fails with 401.
type ChainProvider struct {
	id       string
	resolver Resolver
	manager  *Manager
	cfg      ChainConfig
}

// NewChainProvider creates a provider.
func NewChainProvider(id string, resolver Resolver, manager *Manager, cfg ChainConfig) *ChainProvider {
	return &ChainProvider{id: id, resolver: resolver, manager: manager, cfg: cfg}
}

// Provide returns a fresh chain for the call.
func (p *ChainProvider) Provide(ctx context.Context, ec *execution.Context, streamType StreamType) (*Chain, error) {
	phase := execution.PhaseRequest
	if streamType == OnResponse {
		phase = execution.PhaseResponse
	}

	metas, resolved := p.resolver.Resolve(ctx, ec, streamType)
	if !resolved {
		if streamType == OnRequest {
			return NewDirectFailureChain(p.id, phase, MissingPlanFailure(), p.cfg), nil
		}
		return NewChain(p.id, nil, phase, p.cfg), nil
	}

	policies := make([]Policy, 0, len(metas))
	for _, meta := range metas {
		meta.Phase = phase
		pol, err := p.manager.Create(meta)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", p.id, err)
		}
		policies = append(policies, pol)
	}
	return NewChain(p.id, policies, phase, p.cfg), nil
}
