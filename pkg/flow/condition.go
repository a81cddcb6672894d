package flow

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
)

// ConditionEvaluator decides whether a flow applies to a call.
type ConditionEvaluator interface {
	Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error)
}

// ConditionFunc adapts a function to ConditionEvaluator.
type ConditionFunc func(ec *execution.Context, flow *domain.Flow) (bool, error)

// Evaluate implements ConditionEvaluator.
func (f ConditionFunc) Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error) {
	return f(ec, flow)
}

// CompositeCondition requires every evaluator to pass, stopping at the first
// that does not. Path parameters captured by an evaluator stay visible to the
// following ones and are discarded when the flow does not apply.
type CompositeCondition []ConditionEvaluator

// Evaluate implements ConditionEvaluator.
func (c CompositeCondition) Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error) {
	params := ec.Request().PathParameters
	var known map[string]string
	if strings.Contains(flow.Selector.Path, ":") {
		known = maps.Clone(params)
	}
	for _, e := range c {
		ok, err := e.Evaluate(ec, flow)
		if err != nil || !ok {
			if known != nil {
				maps.DeleteFunc(params, func(name, _ string) bool {
					_, keep := known[name]
					return !keep
				})
			}
			return false, err
		}
	}
	return true, nil
}

// NewDefaultCondition evaluates method, then path, then the expression, the
// most expensive check, last.
func NewDefaultCondition() CompositeCondition {
	return CompositeCondition{MethodCondition{}, NewPathCondition(), ExpressionCondition{}}
}

// MethodCondition passes when the flow declares no method or the request
// method is one of them.
type MethodCondition struct{}

// Evaluate implements ConditionEvaluator.
func (MethodCondition) Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error) {
	methods := flow.Selector.Methods
	if len(methods) == 0 {
		return true, nil
	}
	method := ec.Request().Method
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true, nil
		}
	}
	return false, nil
}

// ExpressionCondition evaluates the flow condition with the template engine.
type ExpressionCondition struct{}

// Evaluate implements ConditionEvaluator.
func (ExpressionCondition) Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error) {
	if strings.TrimSpace(flow.Condition) == "" {
		return true, nil
	}
	ok, err := ec.TemplateEngine().EvalBool(flow.Condition)
	if err != nil {
		return false, fmt.Errorf("flow condition %q: %w", flow.Condition, err)
	}
	return ok, nil
}

// PathCondition matches the flow path against the request path relative to
// the context path. Segments starting with ':' match any single segment and
// are captured as path parameters of the request.
type PathCondition struct {
	mu       sync.RWMutex
	patterns map[string]pathPattern
}

// NewPathCondition creates a path condition with an empty pattern cache.
func NewPathCondition() *PathCondition {
	return &PathCondition{patterns: make(map[string]pathPattern)}
}

// Evaluate implements ConditionEvaluator.
func (p *PathCondition) Evaluate(ec *execution.Context, flow *domain.Flow) (bool, error) {
	path := flow.Selector.Path
	if path == "" {
		return true, nil
	}
	pattern := p.pattern(path)
	req := ec.Request()
	params, ok := pattern.match(req.PathInfo, flow.Selector.PathOperator)
	if !ok {
		return false, nil
	}
	for name, value := range params {
		if _, exists := req.PathParameters[name]; !exists {
			req.PathParameters[name] = value
		}
	}
	return true, nil
}

func (p *PathCondition) pattern(path string) pathPattern {
	p.mu.RLock()
	pattern, ok := p.patterns[path]
	p.mu.RUnlock()
	if ok {
		return pattern
	}
	pattern = compilePath(path)
	p.mu.Lock()
	p.patterns[path] = pattern
	p.mu.Unlock()
	return pattern
}

type pathPattern struct {
	segments []string
}

func compilePath(path string) pathPattern {
	return pathPattern{segments: splitPath(path)}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// match compares the pattern with path. STARTS_WITH, the default, accepts any
// path whose leading segments match.
func (p pathPattern) match(path string, operator domain.PathOperator) (map[string]string, bool) {
	segments := splitPath(path)
	if operator == domain.PathEquals {
		if len(segments) != len(p.segments) {
			return nil, false
		}
	} else if len(segments) < len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, want := range p.segments {
		got := segments[i]
		if strings.HasPrefix(want, ":") && len(want) > 1 {
			if params == nil {
				params = make(map[string]string)
			}
			params[want[1:]] = got
			continue
		}
		if want != got {
			return nil, false
		}
	}
	return params, true
}

// MatchPath compares path with a selector pattern such as /products/:id and
// returns the captured parameters.
func MatchPath(pattern, path string, operator domain.PathOperator) (map[string]string, bool) {
	return compilePath(pattern).match(path, operator)
}
