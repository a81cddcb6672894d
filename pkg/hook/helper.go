package hook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// Unit is a unit of work bound to one call.
type Unit func(ctx context.Context) error

// Func is a unit of work that receives the call context explicitly, so it can
// be decorated once and reused across calls.
type Func func(ctx context.Context, ec *execution.Context) error

// Helper runs units of work surrounded by hook callbacks.
type Helper struct {
	logger *slog.Logger
}

// NewHelper creates a Helper logging hook failures to logger.
func NewHelper(logger *slog.Logger) *Helper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Helper{logger: logger}
}

// Execute runs unit between PRE and POST callbacks of every hook. When unit
// fails, exactly one of INTERRUPT, INTERRUPT_WITH or ERROR is invoked per
// hook and the original error is returned unchanged.
func (h *Helper) Execute(ctx context.Context, unit Unit, componentID string, hooks []Hook, ec *execution.Context, phase execution.Phase) error {
	if len(hooks) == 0 {
		return unit(ctx)
	}

	ctx = h.enter(ctx, componentID, hooks, ec, phase)
	err := unit(ctx)
	if err != nil {
		h.invoke(ctx, failurePoint(err), componentID, hooks, ec, phase, err)
		return err
	}
	h.invoke(ctx, PointPost, componentID, hooks, ec, phase, nil)
	return nil
}

// Wrap decorates fn once. The returned Func applies the hooks on each call;
// without hooks fn is returned as is.
func (h *Helper) Wrap(fn Func, componentID string, hooks []Hook, phase execution.Phase) Func {
	if len(hooks) == 0 {
		return fn
	}
	hooks = append([]Hook(nil), hooks...)
	return func(ctx context.Context, ec *execution.Context) error {
		return h.Execute(ctx, func(ctx context.Context) error { return fn(ctx, ec) }, componentID, hooks, ec, phase)
	}
}

// ExecuteMaybe runs a unit of work producing zero or one value. POST runs
// exactly once for a value or an empty completion; a failure runs exactly one
// failure callback per hook and never POST.
func ExecuteMaybe[T any](ctx context.Context, h *Helper, unit func(ctx context.Context) (T, bool, error), componentID string, hooks []Hook, ec *execution.Context, phase execution.Phase) (T, bool, error) {
	if len(hooks) == 0 {
		return unit(ctx)
	}

	ctx = h.enter(ctx, componentID, hooks, ec, phase)
	value, ok, err := unit(ctx)
	if err != nil {
		h.invoke(ctx, failurePoint(err), componentID, hooks, ec, phase, err)
		var zero T
		return zero, false, err
	}
	h.invoke(ctx, PointPost, componentID, hooks, ec, phase, nil)
	return value, ok, nil
}

func failurePoint(err error) Point {
	switch execution.Classify(err) {
	case execution.OutcomeInterruptWith:
		return PointInterruptWith
	case execution.OutcomeInterrupted:
		return PointInterrupt
	default:
		return PointError
	}
}

// enter runs the PRE callbacks and returns the context the unit runs with.
func (h *Helper) enter(ctx context.Context, componentID string, hooks []Hook, ec *execution.Context, phase execution.Phase) context.Context {
	for _, hk := range hooks {
		ch, ok := hk.(ContextHook)
		if !ok {
			h.invoke(ctx, PointPre, componentID, []Hook{hk}, ec, phase, nil)
			continue
		}
		next, err := h.safeEnter(ctx, ch, componentID, ec, phase)
		if err != nil {
			h.logger.Warn("hook callback failed",
				"hook", hk.ID(),
				"point", string(PointPre),
				"component", componentID,
				"phase", string(phase),
				"error", err,
			)
		}
		if next != nil {
			ctx = next
		}
	}
	return ctx
}

func (h *Helper) safeEnter(ctx context.Context, hk ContextHook, componentID string, ec *execution.Context, phase execution.Phase) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hk.Enter(ctx, componentID, ec, phase)
}

func (h *Helper) invoke(ctx context.Context, point Point, componentID string, hooks []Hook, ec *execution.Context, phase execution.Phase, cause error) {
	for _, hk := range hooks {
		if err := h.safeCall(ctx, hk, point, componentID, ec, phase, cause); err != nil {
			h.logger.Warn("hook callback failed",
				"hook", hk.ID(),
				"point", string(point),
				"component", componentID,
				"phase", string(phase),
				"error", err,
			)
		}
	}
}

func (h *Helper) safeCall(ctx context.Context, hk Hook, point Point, componentID string, ec *execution.Context, phase execution.Phase, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()

	switch point {
	case PointPre:
		return hk.Pre(ctx, componentID, ec, phase)
	case PointPost:
		return hk.Post(ctx, componentID, ec, phase)
	case PointInterrupt:
		return hk.Interrupt(ctx, componentID, ec, phase)
	case PointInterruptWith:
		failure, _ := execution.AsFailure(cause)
		return hk.InterruptWith(ctx, componentID, ec, phase, failure)
	default:
		return hk.Error(ctx, componentID, ec, phase, cause)
	}
}
