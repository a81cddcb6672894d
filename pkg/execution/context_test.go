package execution

import (
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/polisai/polis-gateway/pkg/el"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock interface{ Now() int64 }

type fixedClock struct{}

func (fixedClock) Now() int64 { return 42 }

func TestAttributesAreScoped(t *testing.T) {
	ec := NewContext(nil, nil, Config{})

	ec.SetAttribute("gateway.user", "jane")
	ec.SetInternalAttribute("gateway.user", "internal")

	assert.Equal(t, "jane", ec.Attribute("gateway.user"))
	assert.Equal(t, "internal", ec.InternalAttribute("gateway.user"))

	ec.RemoveAttribute("gateway.user")
	assert.Nil(t, ec.Attribute("gateway.user"))
	assert.Equal(t, "internal", ec.InternalAttribute("gateway.user"))

	ec.SetInternalAttribute("gateway.user", nil)
	assert.Nil(t, ec.InternalAttribute("gateway.user"))
}

func TestAttributesReturnsCopy(t *testing.T) {
	ec := NewContext(nil, nil, Config{})
	ec.SetAttribute("a", 1)

	attrs := ec.Attributes()
	attrs["b"] = 2

	assert.Nil(t, ec.Attribute("b"))
}

func TestComponentLookup(t *testing.T) {
	components := NewComponents()
	Provide[clock](components, fixedClock{})
	ec := NewContext(nil, nil, Config{Components: components})

	c, err := ComponentOf[clock](ec)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.Now())

	_, err = ec.Component(reflect.TypeFor[*http.Client]())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComponentNotFound))
}

func TestTemplateEngineIsBuiltOnce(t *testing.T) {
	calls := 0
	provider := el.VariableProviderFunc(func(engine *el.TemplateEngine) {
		calls++
		engine.Set(el.VarApi, map[string]any{"id": "api-1"})
	})

	req := NewRequest(http.MethodGet, "/echo", http.Header{"X-Test": {"1"}}, nil)
	ec := NewContext(req, nil, Config{TemplateProviders: []el.VariableProvider{provider}})

	first := ec.TemplateEngine()
	second := ec.TemplateEngine()

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	out, err := first.Render("{#api.id} {#request.method} {#request.headers['X-Test'][0]}")
	require.NoError(t, err)
	assert.Equal(t, "api-1 GET 1", out)
}

func TestTemplateEngineSeesLaterMutations(t *testing.T) {
	ec := NewContext(nil, nil, Config{})
	engine := ec.TemplateEngine()

	ec.SetAttribute("gateway.plan", "gold")
	ok, err := engine.EvalBool("context.attributes['gateway.plan'] == 'gold'")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassify(t *testing.T) {
	ec := NewContext(nil, nil, Config{})

	assert.Equal(t, OutcomeCompleted, Classify(nil))
	assert.Equal(t, OutcomeInterrupted, Classify(ec.Interrupt()))
	assert.Equal(t, OutcomeInterruptWith, Classify(ec.InterruptWith(ExecutionFailure{StatusCode: 403, Key: "DENY"})))
	assert.Equal(t, OutcomeError, Classify(errors.New("boom")))

	wrapped := errors.Join(errors.New("context"), NewFailure(401, "K", "m"))
	failure, ok := AsFailure(wrapped)
	require.True(t, ok)
	assert.Equal(t, 401, failure.StatusCode)
	assert.True(t, errors.Is(wrapped, ErrInterrupted))
}
