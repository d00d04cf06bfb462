package graph

import (
	"fmt"
	"sort"
)

// ValidationErrorCode names one of the structural defects Validate
// checks for, in the order spec.md §4.1 lists them.
type ValidationErrorCode string

const (
	CodeMissingEndpoint ValidationErrorCode = "missing_endpoint"
	CodeNoEntryNodes    ValidationErrorCode = "no_entry_nodes"
	CodeOrphanedNode    ValidationErrorCode = "orphaned_node"
	CodeCycleDetected   ValidationErrorCode = "cycle_detected"
)

type ValidationError struct {
	Code    ValidationErrorCode
	Message string
	Path    []string // offending path, populated for cycle_detected
}

type ValidationWarningCode string

const (
	WarnUnreachableNode  ValidationWarningCode = "unreachable_node"
	WarnMultipleEntries  ValidationWarningCode = "multiple_entry_points"
)

type ValidationWarning struct {
	Code    ValidationWarningCode
	Message string
}

type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Validate runs the structural checks of spec.md §4.1 against routine,
// in order: edge endpoints exist, at least one entry node exists, no
// node lacks both incoming and outgoing edges, no directed cycle, and
// every node is reachable from some entry node (reachability failures
// are warnings, not errors).
func Validate(routine RoutineDefinition) ValidationResult {
	g := Build(routine)
	var result ValidationResult

	nodeIDs := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	// (1) edge endpoints exist
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.SourceNodeID]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeMissingEndpoint,
				Message: fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.SourceNodeID),
			})
		}
		if _, ok := g.Nodes[e.TargetNodeID]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeMissingEndpoint,
				Message: fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.TargetNodeID),
			})
		}
	}

	// (2) at least one entry node
	entries := g.EntryNodes()
	sort.Strings(entries)
	if len(entries) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Code:    CodeNoEntryNodes,
			Message: "routine has no entry nodes (every node has an incoming edge)",
		})
	} else if len(entries) > 1 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Code:    WarnMultipleEntries,
			Message: fmt.Sprintf("routine has %d entry points: %v", len(entries), entries),
		})
	}

	// (3) no orphaned nodes (both in and out degree zero)
	for _, id := range nodeIDs {
		if len(g.EdgesByTarget[id]) == 0 && len(g.EdgesBySource[id]) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Code:    CodeOrphanedNode,
				Message: fmt.Sprintf("node %q has neither incoming nor outgoing edges", id),
			})
		}
	}

	// (4) cycle detection via DFS with a recursion-stack set
	if path := detectCycle(g, nodeIDs); path != nil {
		result.Errors = append(result.Errors, ValidationError{
			Code:    CodeCycleDetected,
			Message: fmt.Sprintf("cycle detected: %v", path),
			Path:    path,
		})
	}

	// (5) reachability from entry nodes via BFS (warning only)
	reachable := bfsReachable(g, entries)
	for _, id := range nodeIDs {
		if !reachable[id] {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Code:    WarnUnreachableNode,
				Message: fmt.Sprintf("node %q is not reachable from any entry node", id),
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// detectCycle runs DFS with a recursion-stack set over the graph and
// returns the offending path (node ids, cycle start repeated at the
// end) if one exists, or nil if the graph is acyclic.
func detectCycle(g *ExecutionGraph, nodeIDs []string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.Nodes))
	parent := make(map[string]string)

	var cyclePath []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		outs := g.EdgesBySource[id]
		sort.Slice(outs, func(i, j int) bool { return outs[i].TargetNodeID < outs[j].TargetNodeID })
		for _, e := range outs {
			next := e.TargetNodeID
			if _, ok := g.Nodes[next]; !ok {
				continue // reported separately as missing_endpoint
			}
			switch color[next] {
			case white:
				parent[next] = id
				if dfs(next) {
					return true
				}
			case gray:
				// found a back-edge: reconstruct the cycle path
				cyclePath = []string{next}
				cur := id
				for cur != next {
					cyclePath = append(cyclePath, cur)
					cur = parent[cur]
				}
				cyclePath = append(cyclePath, next)
				reverse(cyclePath)
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range nodeIDs {
		if color[id] == white {
			if dfs(id) {
				return cyclePath
			}
		}
	}
	return nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func bfsReachable(g *ExecutionGraph, entries []string) map[string]bool {
	reachable := make(map[string]bool, len(g.Nodes))
	queue := append([]string(nil), entries...)
	for _, id := range entries {
		reachable[id] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.EdgesBySource[cur] {
			if !reachable[e.TargetNodeID] {
				reachable[e.TargetNodeID] = true
				queue = append(queue, e.TargetNodeID)
			}
		}
	}
	return reachable
}
