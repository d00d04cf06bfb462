package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/state"
)

// stubNodeOutputs is a minimal NodeOutputs fake keyed by node id,
// ignoring loop context (sufficient for resolver unit tests; the
// scheduler integration tests exercise the loop-context-aware lookup
// against a real ExecutionState).
type stubNodeOutputs map[string]map[string][]state.Item

func (s stubNodeOutputs) Get(nodeID string, _ execctx.LoopContext) (state.NodeResult, bool) {
	outputs, ok := s[nodeID]
	if !ok {
		return state.NodeResult{}, false
	}
	return state.NodeResult{NodeID: nodeID, Status: state.NodeCompleted, Outputs: outputs}, true
}

func TestResolve_NoTemplatesIsIdempotent(t *testing.T) {
	input := map[string]any{
		"a": "plain string",
		"b": float64(42),
		"c": []any{"x", "y"},
	}
	out, err := Resolve(input, ExpressionContext{})
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestResolve_WholeValuePreservesType(t *testing.T) {
	ctx := ExpressionContext{Vars: map[string]any{"count": float64(7)}}
	out, err := Resolve("{{ vars.count }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(7), out)
}

func TestResolve_WhitespaceVariantsResolveIdentically(t *testing.T) {
	ctx := ExpressionContext{Vars: map[string]any{"x": "hello"}}
	variants := []string{"{{vars.x}}", "{{ vars.x }}", "{{\nvars.x\n}}"}
	for _, v := range variants {
		out, err := Resolve(v, ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	}
}

func TestResolve_MissingReferenceYieldsUndefinedNotLiteral(t *testing.T) {
	ctx := ExpressionContext{Vars: map[string]any{}}
	out, err := Resolve("{{ vars.missing }}", ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolve_InterpolatedSubstringConcatenates(t *testing.T) {
	ctx := ExpressionContext{Vars: map[string]any{"name": "World"}}
	out, err := Resolve("Hello, {{ vars.name }}!", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)
}

func TestResolve_NodePortFieldLookup(t *testing.T) {
	ctx := ExpressionContext{
		Nodes: stubNodeOutputs{
			"A": map[string][]state.Item{
				"out": {{Data: map[string]any{"x": float64(21)}}},
			},
		},
	}
	out, err := Resolve("{{ nodes.A.out.x }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(21), out)
}
