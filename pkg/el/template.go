package el

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnterminated is returned when a template expression is never closed.
var ErrUnterminated = errors.New("unterminated template expression")

// VariableProvider contributes variables to a template engine when it is built.
type VariableProvider interface {
	Provide(engine *TemplateEngine)
}

// VariableProviderFunc adapts a function to VariableProvider.
type VariableProviderFunc func(engine *TemplateEngine)

// Provide implements VariableProvider.
func (f VariableProviderFunc) Provide(engine *TemplateEngine) { f(engine) }

// TemplateEngine binds a set of variables to an Evaluator. Templates embed
// expressions as {#expr}; everything else is copied verbatim.
type TemplateEngine struct {
	evaluator *Evaluator
	vars      map[string]any
}

// NewTemplateEngine creates an engine with no variables bound.
func NewTemplateEngine(evaluator *Evaluator) *TemplateEngine {
	return &TemplateEngine{
		evaluator: evaluator,
		vars:      make(map[string]any),
	}
}

// Set binds a variable. value may be a func() any to defer computing it
// until an expression references it.
func (t *TemplateEngine) Set(name string, value any) {
	t.vars[name] = value
}

// Variable returns the raw binding for name.
func (t *TemplateEngine) Variable(name string) (any, bool) {
	v, ok := t.vars[name]
	return v, ok
}

// With returns a copy of the engine with extra bindings; the receiver is untouched.
func (t *TemplateEngine) With(extra map[string]any) *TemplateEngine {
	vars := make(map[string]any, len(t.vars)+len(extra))
	for k, v := range t.vars {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}
	return &TemplateEngine{evaluator: t.evaluator, vars: vars}
}

// Eval evaluates a single expression.
func (t *TemplateEngine) Eval(expression string) (any, error) {
	return t.evaluator.Eval(expression, t.vars)
}

// EvalBool evaluates a condition. Blank conditions hold.
func (t *TemplateEngine) EvalBool(expression string) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}
	return t.evaluator.EvalBool(expression, t.vars)
}

// Render replaces every {#expr} in template with the string form of its value.
func (t *TemplateEngine) Render(template string) (string, error) {
	if !strings.Contains(template, "{#") {
		return template, nil
	}

	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{#")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])

		end, ok := closingBrace(rest, start+2)
		if !ok {
			return "", fmt.Errorf("%w at offset %d", ErrUnterminated, len(template)-len(rest)+start)
		}

		value, err := t.Eval(rest[start+2 : end])
		if err != nil {
			return "", err
		}
		if value != nil {
			b.WriteString(fmt.Sprint(value))
		}
		rest = rest[end+1:]
	}
}

// closingBrace finds the brace that closes an expression starting at from,
// skipping nested braces and quoted strings.
func closingBrace(s string, from int) (int, bool) {
	depth := 0
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}
