package security

import (
	"context"
	"sort"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/policy"
)

type candidate struct {
	plan    *domain.Plan
	handler Handler
}

// PlanResolver selects the first usable plan able to handle the request.
// Plans with stronger security are tried first; keyless plans come last.
type PlanResolver struct {
	apiID      string
	candidates []candidate
}

// NewPlanResolver prepares the plans of api. Plans that are not usable or use
// a security type without handler are ignored.
func NewPlanResolver(api *domain.Api, handlers ...Handler) *PlanResolver {
	if len(handlers) == 0 {
		handlers = DefaultHandlers()
	}
	byType := make(map[domain.SecurityType]Handler, len(handlers))
	for _, h := range handlers {
		byType[h.Type()] = h
	}

	var candidates []candidate
	for i := range api.Plans {
		plan := &api.Plans[i]
		h, ok := byType[plan.Security.Type]
		if !ok || !plan.Usable() {
			continue
		}
		candidates = append(candidates, candidate{plan: plan, handler: h})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].handler.Priority() > candidates[j].handler.Priority()
	})
	return &PlanResolver{apiID: api.ID, candidates: candidates}
}

// Resolve implements policy.Resolver. The response stream needs no security.
func (r *PlanResolver) Resolve(_ context.Context, ec *execution.Context, streamType policy.StreamType) ([]policy.Metadata, bool) {
	if streamType == policy.OnResponse {
		return nil, true
	}
	for _, c := range r.candidates {
		if !c.handler.CanHandle(ec, c.plan) {
			continue
		}
		if c.plan.SelectionRule != "" {
			ok, err := ec.TemplateEngine().EvalBool(c.plan.SelectionRule)
			if err != nil {
				ec.Logger().Warn("plan selection rule failed", "plan", c.plan.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		ec.SetAttribute(execution.AttrPlan, c.plan.ID)
		ec.SetInternalAttribute(execution.InternalPlan, c.plan)
		return []policy.Metadata{{
			Policy:        c.handler.PolicyID(),
			Name:          c.handler.PolicyID(),
			Configuration: c.plan.Security.Configuration,
			Key:           r.apiID + "/" + c.plan.ID,
		}}, true
	}
	return nil, false
}
