// Package el evaluates expression-language conditions and templates against
// the per-call variables of the gateway. Expressions are written in CEL and
// compiled programs are cached per expression.
package el

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Variable names that expressions can reference.
const (
	VarRequest    = "request"
	VarResponse   = "response"
	VarContext    = "context"
	VarApi        = "api"
	VarPlan       = "plan"
	VarNode       = "node"
	VarMessage    = "message"
	VarError      = "error"
	VarProperties = "properties"
)

// DefaultVariables lists every variable declared in the default environment.
var DefaultVariables = []string{
	VarRequest, VarResponse, VarContext, VarApi, VarPlan,
	VarNode, VarMessage, VarError, VarProperties,
}

var (
	// ErrCompile is returned when an expression does not compile.
	ErrCompile = errors.New("expression compile failed")
	// ErrNotBoolean is returned when a condition does not evaluate to a boolean.
	ErrNotBoolean = errors.New("expression must evaluate to a boolean")
)

// Evaluator compiles and evaluates CEL expressions with a program cache.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator builds an evaluator whose environment declares the given
// variables as dynamic values. DefaultVariables are used when none are given.
func NewEvaluator(variables ...string) (*Evaluator, error) {
	if len(variables) == 0 {
		variables = DefaultVariables
	}

	opts := make([]cel.EnvOption, 0, len(variables)+1)
	opts = append(opts, ext.Strings())
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// MustNewEvaluator is NewEvaluator for package-level defaults and tests.
func MustNewEvaluator(variables ...string) *Evaluator {
	e, err := NewEvaluator(variables...)
	if err != nil {
		panic(err)
	}
	return e
}

// Compile checks an expression and caches its program.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(stripDelimiters(expression))
	return err
}

// Eval evaluates the expression against vars and returns the native result.
// Values in vars may be func() any; they are resolved on first reference.
func (e *Evaluator) Eval(expression string, vars map[string]any) (any, error) {
	program, err := e.program(stripDelimiters(expression))
	if err != nil {
		return nil, err
	}

	// The activation caches lazily resolved values into the map it is given.
	activation := make(map[string]any, len(vars))
	for k, v := range vars {
		activation[k] = v
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("CEL evaluation failed: %w", err)
	}
	return out.Value(), nil
}

// EvalBool evaluates a condition.
func (e *Evaluator) EvalBool(expression string, vars map[string]any) (bool, error) {
	value, err := e.Eval(expression, vars)
	if err != nil {
		return false, err
	}
	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w, got %T", ErrNotBoolean, value)
	}
	return result, nil
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programs[expression]; ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCompile, expression, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCompile, expression, err)
	}

	e.programs[expression] = program
	return program, nil
}

// stripDelimiters accepts both bare expressions and the "{#expr}" template form.
func stripDelimiters(expression string) string {
	trimmed := strings.TrimSpace(expression)
	if strings.HasPrefix(trimmed, "{#") && strings.HasSuffix(trimmed, "}") {
		if end, ok := closingBrace(trimmed, 2); ok && end == len(trimmed)-1 {
			return strings.TrimSpace(trimmed[2:end])
		}
	}
	return trimmed
}
