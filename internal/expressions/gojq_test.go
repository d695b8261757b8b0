package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

func TestGoJQEngine_ExtractPath(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.outputs.total`, map[string]any{
		"outputs": map[string]any{"total": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out, "integers widen to float64 for jq")
}

func TestGoJQEngine_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.steps[].status`, map[string]any{
		"steps": []any{
			map[string]any{"status": "completed"},
			map[string]any{"status": "completed"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"completed", "completed"}, out)
}

func TestGoJQEngine_EvaluateAllAlwaysSlice(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateAll(context.Background(), `.missing // empty`, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.EvaluateAll(context.Background(), `.a`, map[string]any{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out)
}

func TestGoJQEngine_ParseErrorIsStructured(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[unclosed`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestGoJQEngine_EnvAccessIsSandboxed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQEngine_Check(t *testing.T) {
	e := NewGoJQEngine()
	assert.NoError(t, e.Check(`.outputs.total`))
	assert.Error(t, e.Check(`.[`))
}
