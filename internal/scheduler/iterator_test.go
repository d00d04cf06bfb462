package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/state"
)

func buildGraph(t *testing.T, routine graph.RoutineDefinition) *graph.ExecutionGraph {
	t.Helper()
	result := graph.Validate(routine)
	require.True(t, result.Valid, "routine should validate: %+v", result.Errors)
	return graph.Build(routine)
}

func outputs(port string, data ...any) state.NodeOutput {
	items := make([]state.Item, len(data))
	for i, d := range data {
		items[i] = state.Item{Data: d}
	}
	return state.NodeOutput{port: items}
}

// TestScenario1_Linear exercises spec.md §8 seed scenario 1: a linear
// A->B->C chain where C's final output is 21 and the execution path is
// exactly [A, B, C].
func TestScenario1_Linear(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{
			{ID: "A", PluginID: "static-data"},
			{ID: "B", PluginID: "double"},
			{ID: "C", PluginID: "add"},
		},
		Connections: []graph.Edge{
			{ID: "e1", SourceNodeID: "A", SourcePort: "out", TargetNodeID: "B", TargetPort: "in"},
			{ID: "e2", SourceNodeID: "B", SourcePort: "out", TargetNodeID: "C", TargetPort: "in"},
		},
	}
	g := buildGraph(t, routine)
	st := state.New()
	it := New(g, st)

	batch := it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, "A", batch[0].NodeID)

	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", float64(1)), time.Now()))

	batch = it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, "B", batch[0].NodeID)
	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", float64(2)), time.Now()))

	batch = it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, "C", batch[0].NodeID)
	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", float64(21)), time.Now()))

	assert.True(t, it.IsDone())
	path := st.Path()
	require.Len(t, path, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{path[0].NodeID, path[1].NodeID, path[2].NodeID})

	result, ok := st.Get("C", execctx.Root)
	require.True(t, ok)
	assert.Equal(t, float64(21), result.Outputs["out"][0].Data)
}

// TestScenario2_ConditionalBranchingPrunesEmptyPort exercises seed
// scenario 2: the true-side downstream never runs when the condition
// node emits nothing on "true".
func TestScenario2_ConditionalBranchingPrunesEmptyPort(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{
			{ID: "cond", PluginID: "if-else"},
			{ID: "trueSide", PluginID: "noop"},
			{ID: "falseSide", PluginID: "noop"},
		},
		Connections: []graph.Edge{
			{ID: "eTrue", SourceNodeID: "cond", SourcePort: "true", TargetNodeID: "trueSide", TargetPort: "in"},
			{ID: "eFalse", SourceNodeID: "cond", SourcePort: "false", TargetNodeID: "falseSide", TargetPort: "in"},
		},
	}
	g := buildGraph(t, routine)
	st := state.New()
	it := New(g, st)

	batch := it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	condOutputs := state.NodeOutput{
		"true":  nil,
		"false": []state.Item{{Data: float64(5)}},
	}
	require.NoError(t, it.MarkNodeCompleted(batch[0], condOutputs, time.Now()))

	batch = it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, "falseSide", batch[0].NodeID)
	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", float64(5)), time.Now()))

	assert.True(t, it.IsDone())

	trueResult, ok := st.Get("trueSide", execctx.Root)
	require.True(t, ok)
	assert.Equal(t, state.NodeSkipped, trueResult.Status)

	path := st.Path()
	var ran []string
	for _, p := range path {
		ran = append(ran, p.NodeID)
	}
	assert.NotContains(t, ran, "trueSide")
	assert.Contains(t, ran, "falseSide")
}

// TestScenario3_ParallelFanIn exercises seed scenario 3: two
// independent entries feed a merge node, which runs exactly once with
// both inputs present.
func TestScenario3_ParallelFanIn(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{
			{ID: "e1n"}, {ID: "e2n"}, {ID: "merge"},
		},
		Connections: []graph.Edge{
			{ID: "edgeA", SourceNodeID: "e1n", SourcePort: "out", TargetNodeID: "merge", TargetPort: "a"},
			{ID: "edgeB", SourceNodeID: "e2n", SourcePort: "out", TargetNodeID: "merge", TargetPort: "b"},
		},
	}
	g := buildGraph(t, routine)
	st := state.New()
	it := New(g, st)

	batch := it.NextBatch(time.Now())
	require.Len(t, batch, 2) // both entries ready simultaneously under K=2

	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", "left"), time.Now()))
	// merge not ready yet: only one of two in-edges resolved
	assert.Empty(t, it.NextBatch(time.Now()))

	require.NoError(t, it.MarkNodeCompleted(batch[1], outputs("out", "right"), time.Now()))
	mergeBatch := it.NextBatch(time.Now())
	require.Len(t, mergeBatch, 1)
	assert.Equal(t, "merge", mergeBatch[0].NodeID)

	inputs, err := it.GatherInputs(mergeBatch[0])
	require.NoError(t, err)
	require.Len(t, inputs["a"], 1)
	require.Len(t, inputs["b"], 1)

	require.NoError(t, it.MarkNodeCompleted(mergeBatch[0], outputs("out", "merged"), time.Now()))
	assert.True(t, it.IsDone())
}

// TestScenario4_Loop exercises seed scenario 4: a collection flowing
// through a split-in-batches-style loop node, with downstream running
// once per item and "done" firing exactly once afterward.
func TestScenario4_Loop(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{
			{ID: "source"}, {ID: "loop"}, {ID: "perItem"}, {ID: "after"},
		},
		Connections: []graph.Edge{
			{ID: "eSrc", SourceNodeID: "source", SourcePort: "out", TargetNodeID: "loop", TargetPort: "in"},
			{ID: "eBody", SourceNodeID: "loop", SourcePort: "body", TargetNodeID: "perItem", TargetPort: "in"},
			{ID: "eDone", SourceNodeID: "loop", SourcePort: "done", TargetNodeID: "after", TargetPort: "in"},
		},
	}
	g := buildGraph(t, routine)
	st := state.New()
	it := New(g, st)

	batch := it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	require.NoError(t, it.MarkNodeCompleted(batch[0], outputs("out", []any{"a", "b", "c"}), time.Now()))

	batch = it.NextBatch(time.Now())
	require.Len(t, batch, 1)
	require.Equal(t, "loop", batch[0].NodeID)

	loopOutputs := state.NodeOutput{
		bodyPort: {{Data: "a"}, {Data: "b"}, {Data: "c"}},
		donePort: {{Data: "finished"}},
	}
	require.NoError(t, it.MarkNodeCompleted(batch[0], loopOutputs, time.Now()))

	batch = it.NextBatch(time.Now())
	// three perItem iterations plus one "after" (done) task
	require.Len(t, batch, 4)

	var perItemCount, afterCount int
	var perItemTasks []Task
	for _, task := range batch {
		switch task.NodeID {
		case "perItem":
			perItemCount++
			perItemTasks = append(perItemTasks, task)
		case "after":
			afterCount++
			require.Equal(t, 0, task.Context.Depth(), "done branch runs at the parent loop depth")
		}
	}
	assert.Equal(t, 3, perItemCount)
	assert.Equal(t, 1, afterCount)

	// each perItem task has a distinct contextKey
	seen := map[string]bool{}
	for _, task := range perItemTasks {
		key := task.Context.ContextKey()
		assert.False(t, seen[key], "context key %q repeated", key)
		seen[key] = true
	}

	for _, task := range batch {
		require.NoError(t, it.MarkNodeCompleted(task, outputs("out", "ok"), time.Now()))
	}
	assert.True(t, it.IsDone())
}

// TestScenario6_CycleRejectedBeforeExecution exercises seed scenario 6
// at the validation layer: a cyclic routine never reaches the
// iterator.
func TestScenario6_CycleRejectedBeforeExecution(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{{ID: "A"}, {ID: "B"}},
		Connections: []graph.Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "B"},
			{ID: "e2", SourceNodeID: "B", TargetNodeID: "A"},
		},
	}
	result := graph.Validate(routine)
	require.False(t, result.Valid)
	var codes []graph.ValidationErrorCode
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, graph.CodeCycleDetected)
}

func TestMixedFiredAndSkippedEdgesRunsWithArrivedItems(t *testing.T) {
	routine := graph.RoutineDefinition{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Connections: []graph.Edge{
			{ID: "e1", SourceNodeID: "a", SourcePort: "out", TargetNodeID: "c", TargetPort: "fromA"},
			{ID: "e2", SourceNodeID: "b", SourcePort: "out", TargetNodeID: "c", TargetPort: "fromB"},
		},
	}
	g := buildGraph(t, routine)
	st := state.New()
	it := New(g, st)

	batch := it.NextBatch(time.Now())
	require.Len(t, batch, 2)
	for _, task := range batch {
		if task.NodeID == "a" {
			require.NoError(t, it.MarkNodeCompleted(task, outputs("out", "fromA"), time.Now()))
		} else {
			require.NoError(t, it.MarkNodeCompleted(task, state.NodeOutput{"out": nil}, time.Now()))
		}
	}

	cBatch := it.NextBatch(time.Now())
	require.Len(t, cBatch, 1)
	inputs, err := it.GatherInputs(cBatch[0])
	require.NoError(t, err)
	assert.Len(t, inputs["fromA"], 1)
	assert.Empty(t, inputs["fromB"])
}
