// Package hook decorates units of work with observation callbacks. Hooks see
// every step of a call (policies, processors, chains, connector calls) and
// can never change its outcome.
package hook

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// Hook observes the lifecycle of a unit of work. Returned errors and panics
// are logged and otherwise ignored.
type Hook interface {
	ID() string
	Pre(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error
	Post(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error
	Interrupt(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) error
	InterruptWith(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, failure execution.ExecutionFailure) error
	Error(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase, err error) error
}

// ContextHook is a Hook whose PRE callback derives the context the unit of
// work runs with, so nested units can inherit from it. Enter replaces Pre for
// such hooks.
type ContextHook interface {
	Hook
	Enter(ctx context.Context, componentID string, ec *execution.Context, phase execution.Phase) (context.Context, error)
}

// Point names a hook callback.
type Point string

const (
	PointPre           Point = "PRE"
	PointPost          Point = "POST"
	PointInterrupt     Point = "INTERRUPT"
	PointInterruptWith Point = "INTERRUPT_WITH"
	PointError         Point = "ERROR"
)

// Base implements every callback as a no-op so hooks only override what they observe.
type Base struct{}

func (Base) Pre(context.Context, string, *execution.Context, execution.Phase) error  { return nil }
func (Base) Post(context.Context, string, *execution.Context, execution.Phase) error { return nil }
func (Base) Interrupt(context.Context, string, *execution.Context, execution.Phase) error {
	return nil
}
func (Base) InterruptWith(context.Context, string, *execution.Context, execution.Phase, execution.ExecutionFailure) error {
	return nil
}
func (Base) Error(context.Context, string, *execution.Context, execution.Phase, error) error {
	return nil
}
