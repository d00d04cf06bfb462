package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearRoutine() RoutineDefinition {
	return RoutineDefinition{
		RoutineID: "r1",
		UserID:    "u1",
		Nodes: []Node{
			{ID: "A", PluginID: "static-data", Parameters: map[string]any{"data": 1}},
			{ID: "B", PluginID: "double"},
			{ID: "C", PluginID: "add", Parameters: map[string]any{"delta": 10}},
		},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", SourcePort: "out", TargetNodeID: "B", TargetPort: "in"},
			{ID: "e2", SourceNodeID: "B", SourcePort: "out", TargetNodeID: "C", TargetPort: "in"},
		},
	}
}

func TestValidate_LinearRoutineIsValid(t *testing.T) {
	result := Validate(linearRoutine())
	require.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_CycleIsRejected(t *testing.T) {
	routine := RoutineDefinition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "B"},
			{ID: "e2", SourceNodeID: "B", TargetNodeID: "A"},
		},
	}
	result := Validate(routine)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, CodeCycleDetected, result.Errors[1].Code)
}

func TestValidate_NoEntryNodes(t *testing.T) {
	routine := RoutineDefinition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "B"},
			{ID: "e2", SourceNodeID: "B", TargetNodeID: "A"},
		},
	}
	result := Validate(routine)
	var codes []ValidationErrorCode
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, CodeNoEntryNodes)
}

func TestValidate_OrphanedNode(t *testing.T) {
	routine := RoutineDefinition{
		Nodes: []Node{
			{ID: "A"}, {ID: "B"}, {ID: "orphan"},
		},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "B"},
		},
	}
	result := Validate(routine)
	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Code == CodeOrphanedNode {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_MissingEndpoint(t *testing.T) {
	routine := RoutineDefinition{
		Nodes: []Node{{ID: "A"}},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "ghost"},
		},
	}
	result := Validate(routine)
	require.False(t, result.Valid)
	assert.Equal(t, CodeMissingEndpoint, result.Errors[0].Code)
}

func TestValidate_MultipleEntryPointsIsWarningOnly(t *testing.T) {
	routine := RoutineDefinition{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "merge"}},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "A", TargetNodeID: "merge"},
			{ID: "e2", SourceNodeID: "B", TargetNodeID: "merge"},
		},
	}
	result := Validate(routine)
	require.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, WarnMultipleEntries, result.Warnings[0].Code)
}

func TestValidate_UnreachableComponentIsWarningPlusCycleError(t *testing.T) {
	// H->I is a normal reachable component; E,F,G form a separate cycle
	// with no entry of its own, so they are both unreachable from H and
	// individually flagged as a cycle.
	routine := RoutineDefinition{
		Nodes: []Node{{ID: "H"}, {ID: "I"}, {ID: "E"}, {ID: "F"}, {ID: "G"}},
		Connections: []Edge{
			{ID: "e1", SourceNodeID: "H", TargetNodeID: "I"},
			{ID: "e2", SourceNodeID: "E", TargetNodeID: "F"},
			{ID: "e3", SourceNodeID: "F", TargetNodeID: "G"},
			{ID: "e4", SourceNodeID: "G", TargetNodeID: "E"},
		},
	}
	result := Validate(routine)
	require.False(t, result.Valid)
	var errCodes []ValidationErrorCode
	for _, e := range result.Errors {
		errCodes = append(errCodes, e.Code)
	}
	assert.Contains(t, errCodes, CodeCycleDetected)
	foundUnreachable := false
	for _, w := range result.Warnings {
		if w.Code == WarnUnreachableNode {
			foundUnreachable = true
		}
	}
	assert.True(t, foundUnreachable)
}
