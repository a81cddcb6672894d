// Package processor holds the built-in units of work that run around the
// policy flows of every call: before them (pre), after a normal completion
// (post) and after a failure (error). The processors of an API are chosen
// once, when the API is deployed.
package processor

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/hook"
)

// Processor is one built-in unit of work.
type Processor interface {
	ID() string
	Execute(ctx context.Context, ec *execution.Context) error
}

// Func adapts a function to Processor.
type Func struct {
	Name string
	Fn   func(ctx context.Context, ec *execution.Context) error
}

func (f Func) ID() string { return f.Name }

func (f Func) Execute(ctx context.Context, ec *execution.Context) error { return f.Fn(ctx, ec) }

// ChainConfig holds the collaborators of a Chain.
type ChainConfig struct {
	Hooks  []hook.Hook
	Helper *hook.Helper
	Logger *slog.Logger
}

// Chain runs processors in order. Unlike a policy chain it is immutable and
// shared by every call of the API.
type Chain struct {
	id         string
	phase      execution.Phase
	processors []Processor
	units      []hook.Func
}

// NewChain creates a chain reporting phase to its hooks.
func NewChain(id string, phase execution.Phase, processors []Processor, cfg ChainConfig) *Chain {
	helper := cfg.Helper
	if helper == nil {
		logger := cfg.Logger
		if logger == nil {
			logger = slog.Default()
		}
		helper = hook.NewHelper(logger)
	}
	units := make([]hook.Func, len(processors))
	for i, p := range processors {
		units[i] = helper.Wrap(p.Execute, p.ID(), cfg.Hooks, phase)
	}
	return &Chain{
		id:         id,
		phase:      phase,
		processors: processors,
		units:      units,
	}
}

// ID returns the chain id.
func (c *Chain) ID() string { return c.id }

// Len returns the number of processors.
func (c *Chain) Len() int { return len(c.processors) }

// IDs returns the processor ids in execution order.
func (c *Chain) IDs() []string {
	ids := make([]string, len(c.processors))
	for i, p := range c.processors {
		ids[i] = p.ID()
	}
	return ids
}

// Execute runs every processor until one returns an error, which is
// returned unchanged. Interruptions are errors too.
func (c *Chain) Execute(ctx context.Context, ec *execution.Context) error {
	for _, unit := range c.units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := unit(ctx, ec); err != nil {
			return err
		}
	}
	return nil
}
