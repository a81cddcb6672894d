package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/policy"
)

// ChainConfig holds the collaborators of a Chain.
type ChainConfig struct {
	// Hooks observe each policy chain run by the flow chain.
	Hooks  []hook.Hook
	Helper *hook.Helper
	Logger *slog.Logger
}

// Chain runs the policy chains of the flows resolved for a call.
type Chain struct {
	id       string
	resolver Resolver
	factory  policy.ChainFactory
	hooks    []hook.Hook
	helper   *hook.Helper
	logger   *slog.Logger
}

// NewChain creates a flow chain. id must be unique among the flow chains
// running for the same call, since it keys the resolution cache.
func NewChain(id string, resolver Resolver, factory policy.ChainFactory, cfg ChainConfig) *Chain {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	helper := cfg.Helper
	if helper == nil {
		helper = hook.NewHelper(logger)
	}
	return &Chain{
		id:       id,
		resolver: resolver,
		factory:  factory,
		hooks:    cfg.Hooks,
		helper:   helper,
		logger:   logger,
	}
}

// ID returns the chain id.
func (c *Chain) ID() string { return c.id }

// Execute runs one policy chain per resolved flow, in flow order, for phase.
// It returns the first non-nil result of a policy chain unchanged; later
// flows are not even built.
func (c *Chain) Execute(ctx context.Context, ec *execution.Context, phase execution.Phase) error {
	flows, err := c.flows(ctx, ec)
	if err != nil {
		return err
	}

	for _, f := range flows {
		if err := ctx.Err(); err != nil {
			return err
		}
		chain, err := c.factory.Create(c.id, f, phase)
		if err != nil {
			return fmt.Errorf("flow chain %s: %w", c.id, err)
		}
		if chain.Len() == 0 {
			continue
		}
		if err := c.helper.Execute(ctx, func(ctx context.Context) error {
			return chain.Execute(ctx, ec)
		}, chain.ID(), c.hooks, ec, phase); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) flows(ctx context.Context, ec *execution.Context) ([]*domain.Flow, error) {
	key := execution.InternalFlowsPrefix + c.id
	if cached, ok := ec.InternalAttribute(key).([]*domain.Flow); ok {
		return cached, nil
	}
	flows, err := c.resolver.Resolve(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("flow chain %s: resolve: %w", c.id, err)
	}
	if flows == nil {
		flows = []*domain.Flow{}
	}
	ec.SetInternalAttribute(key, flows)
	return flows, nil
}
