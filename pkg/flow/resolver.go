package flow

import (
	"context"
	"log/slog"
	"sort"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// Resolver returns the flows that apply to a call, in execution order.
type Resolver interface {
	Resolve(ctx context.Context, ec *execution.Context) ([]*domain.Flow, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ec *execution.Context) ([]*domain.Flow, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, ec *execution.Context) ([]*domain.Flow, error) {
	return f(ctx, ec)
}

// Candidates returns the enabled flows of a list, stably sorted by Order.
// The returned pointers reference the list itself.
func Candidates(flows []domain.Flow) []*domain.Flow {
	out := make([]*domain.Flow, 0, len(flows))
	for i := range flows {
		if flows[i].IsEnabled() {
			out = append(out, &flows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ConditionalResolver filters candidate flows through a ConditionEvaluator.
// A flow whose condition cannot be evaluated is skipped and logged.
type ConditionalResolver struct {
	candidates func(ec *execution.Context) []*domain.Flow
	condition  ConditionEvaluator
	logger     *slog.Logger
}

// NewConditionalResolver creates a resolver over candidates. A nil condition
// selects NewDefaultCondition.
func NewConditionalResolver(candidates func(ec *execution.Context) []*domain.Flow, condition ConditionEvaluator, logger *slog.Logger) *ConditionalResolver {
	if condition == nil {
		condition = NewDefaultCondition()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionalResolver{candidates: candidates, condition: condition, logger: logger}
}

// NewStaticResolver resolves among a fixed list of flows, such as the flows
// of an API or the platform flows.
func NewStaticResolver(flows []domain.Flow, condition ConditionEvaluator, logger *slog.Logger) *ConditionalResolver {
	candidates := Candidates(flows)
	return NewConditionalResolver(func(*execution.Context) []*domain.Flow { return candidates }, condition, logger)
}

// NewPlanResolver resolves among the flows of the plan selected for the call.
// Without a selected plan nothing resolves.
func NewPlanResolver(condition ConditionEvaluator, logger *slog.Logger) *ConditionalResolver {
	return NewConditionalResolver(func(ec *execution.Context) []*domain.Flow {
		plan, ok := ec.InternalAttribute(execution.InternalPlan).(*domain.Plan)
		if !ok || plan == nil {
			return nil
		}
		return Candidates(plan.Flows)
	}, condition, logger)
}

// Resolve implements Resolver.
func (r *ConditionalResolver) Resolve(_ context.Context, ec *execution.Context) ([]*domain.Flow, error) {
	candidates := r.candidates(ec)
	resolved := make([]*domain.Flow, 0, len(candidates))
	for _, f := range candidates {
		ok, err := r.condition.Evaluate(ec, f)
		if err != nil {
			ec.Logger().Warn("flow condition evaluation failed, skipping flow",
				"flow", flowName(f),
				"error", err,
			)
			continue
		}
		if ok {
			resolved = append(resolved, f)
		}
	}
	return resolved, nil
}

func flowName(f *domain.Flow) string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
