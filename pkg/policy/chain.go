package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/hook"
)

// State is the lifecycle position of a Chain.
type State int

const (
	StateReady State = iota
	StateRunning
	StateCompleted
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// ErrChainReused is returned when a chain is executed a second time.
var ErrChainReused = errors.New("policy chain already executed")

// ChainConfig holds the collaborators of a Chain.
type ChainConfig struct {
	Hooks  []hook.Hook
	Helper *hook.Helper
	Logger *slog.Logger
}

// Chain executes an ordered list of policies for one phase. It is single use
// and must not be executed concurrently.
type Chain struct {
	id       string
	phase    execution.Phase
	policies []Policy
	units    []hook.Func
	hooks    []hook.Hook
	helper   *hook.Helper
	logger   *slog.Logger
	state    State
}

// NewChain creates a chain in the READY state.
func NewChain(id string, policies []Policy, phase execution.Phase, cfg ChainConfig) *Chain {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	helper := cfg.Helper
	if helper == nil {
		helper = hook.NewHelper(logger)
	}
	c := &Chain{
		id:       id,
		phase:    phase,
		policies: policies,
		hooks:    cfg.Hooks,
		helper:   helper,
		logger:   logger,
		state:    StateReady,
	}
	if !phase.IsMessage() {
		for _, p := range policies {
			if fn := c.unit(p); fn != nil {
				c.units = append(c.units, helper.Wrap(func(ctx context.Context, ec *execution.Context) error {
					return fn(ctx, ec)
				}, p.ID(), cfg.Hooks, phase))
			}
		}
	}
	return c
}

// ID returns the chain id.
func (c *Chain) ID() string { return c.id }

// Phase returns the phase the chain serves.
func (c *Chain) Phase() execution.Phase { return c.phase }

// State returns the current lifecycle state.
func (c *Chain) State() State { return c.state }

// Len returns the number of policies.
func (c *Chain) Len() int { return len(c.policies) }

// Execute runs the chain. Request and response phases run every policy in
// order, stopping at the first non-nil return, which is returned unchanged.
// Message phases register a transformer on the message flow of the phase and
// complete immediately; policies then run for each message as it is consumed.
func (c *Chain) Execute(ctx context.Context, ec *execution.Context) error {
	if c.state != StateReady {
		return fmt.Errorf("%w: %s is %s", ErrChainReused, c.id, c.state)
	}
	c.state = StateRunning

	var err error
	if c.phase.IsMessage() {
		c.registerMessageTransformer(ec)
	} else {
		err = c.run(ctx, ec)
	}

	c.state = terminalState(err)
	return err
}

func (c *Chain) run(ctx context.Context, ec *execution.Context) error {
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

func (c *Chain) unit(p Policy) func(context.Context, execution.PolicyContext) error {
	switch c.phase {
	case execution.PhaseRequest:
		if rp, ok := p.(RequestPolicy); ok {
			return rp.OnRequest
		}
	case execution.PhaseResponse:
		if rp, ok := p.(ResponsePolicy); ok {
			return rp.OnResponse
		}
	}
	return nil
}

type messageFunc func(context.Context, execution.PolicyContext, *execution.Message) (*execution.Message, error)

func (c *Chain) messageUnit(p Policy) messageFunc {
	switch c.phase {
	case execution.PhaseMessageRequest:
		if mp, ok := p.(MessageRequestPolicy); ok {
			return mp.OnMessageRequest
		}
	case execution.PhaseMessageResponse:
		if mp, ok := p.(MessageResponsePolicy); ok {
			return mp.OnMessageResponse
		}
	}
	return nil
}

func (c *Chain) registerMessageTransformer(ec *execution.Context) {
	type step struct {
		id string
		fn messageFunc
	}
	steps := make([]step, 0, len(c.policies))
	for _, p := range c.policies {
		if fn := c.messageUnit(p); fn != nil {
			steps = append(steps, step{id: p.ID(), fn: fn})
		}
	}
	if len(steps) == 0 {
		return
	}

	flow := ec.Request().Messages()
	if c.phase == execution.PhaseMessageResponse {
		flow = ec.Response().Messages()
	}

	flow.OnMessage(func(ctx context.Context, msg *execution.Message) (*execution.Message, error) {
		current := msg
		for _, s := range steps {
			in := current
			out, ok, err := hook.ExecuteMaybe(ctx, c.helper, func(ctx context.Context) (*execution.Message, bool, error) {
				m, err := s.fn(ctx, ec, in)
				return m, m != nil, err
			}, s.id, c.hooks, ec, c.phase)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			current = out
		}
		return current, nil
	})
}

func terminalState(err error) State {
	switch execution.Classify(err) {
	case execution.OutcomeCompleted:
		return StateCompleted
	case execution.OutcomeInterrupted:
		return StateInterrupted
	default:
		return StateFailed
	}
}
