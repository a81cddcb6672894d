package el

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	engine := NewTemplateEngine(MustNewEvaluator())
	engine.Set(VarError, map[string]any{"key": "CUSTOM_DENY", "status": 403})
	engine.Set(VarContext, map[string]any{"attributes": map[string]any{"user": "jane"}})

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "plain", template: "no expressions", want: "no expressions"},
		{name: "single", template: `{"key":"{#error.key}"}`, want: `{"key":"CUSTOM_DENY"}`},
		{name: "number", template: "status={#error.status}", want: "status=403"},
		{name: "map literal", template: "{#{'a': 'b'}['a']}", want: "b"},
		{name: "quoted brace", template: "{#'}' + context.attributes.user}", want: "}jane"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Render(tt.template)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderUnterminated(t *testing.T) {
	engine := NewTemplateEngine(MustNewEvaluator())
	_, err := engine.Render("hello {#error.key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnterminated))
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	engine := NewTemplateEngine(MustNewEvaluator())
	engine.Set(VarApi, map[string]any{"id": "api-1"})

	scoped := engine.With(map[string]any{VarMessage: map[string]any{"id": "m-1"}})

	_, ok := engine.Variable(VarMessage)
	assert.False(t, ok)

	got, err := scoped.Render("{#api.id}/{#message.id}")
	require.NoError(t, err)
	assert.Equal(t, "api-1/m-1", got)
}

func TestEvalBoolBlankConditionHolds(t *testing.T) {
	engine := NewTemplateEngine(MustNewEvaluator())
	ok, err := engine.EvalBool("  ")
	require.NoError(t, err)
	assert.True(t, ok)
}
