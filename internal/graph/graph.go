// Package graph builds and validates the ExecutionGraph a routine is
// compiled into before the GraphIterator schedules work over it.
package graph

// Node is one plugin invocation within a routine. Parameters are
// arbitrary, plugin-defined configuration resolved against the
// Expression Resolver just before invocation.
type Node struct {
	ID                  string
	PluginID            string
	Label               string
	Parameters          map[string]any
	CredentialMappings  map[string]string // alias -> credential id
}

// VariableType is the declared type of a RoutineVariable.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableJSON    VariableType = "json"
)

// RoutineVariable is a named, typed value frozen at execution start.
type RoutineVariable struct {
	Name  string
	Type  VariableType
	Value any
}

// Edge connects a source node's output port to a target node's input
// port. Edges carry no conditional type: branching is entirely the
// responsibility of the nodes they connect (see Validate).
type Edge struct {
	ID           string
	SourceNodeID string
	SourcePort   string
	TargetNodeID string
	TargetPort   string
	Type         string
}

// ExecutionGraph is the compiled form of a RoutineDefinition: a node
// map plus forward/reverse adjacency indexed by edge, along with the
// frozen variables and trigger payload for the execution.
type ExecutionGraph struct {
	Nodes        map[string]*Node
	Edges        []*Edge
	EdgesBySource map[string][]*Edge // keyed by SourceNodeID
	EdgesByTarget map[string][]*Edge // keyed by TargetNodeID
	Variables    map[string]RoutineVariable
	TriggerData  map[string]any
}

// RoutineDefinition is the inbound shape the graph is built from,
// matching the RoutineInput contract of spec.md §6.
type RoutineDefinition struct {
	RoutineID   string
	UserID      string
	Nodes       []Node
	Connections []Edge
	Variables   []RoutineVariable
	TriggerData map[string]any
}

// Build compiles a RoutineDefinition into an ExecutionGraph. It never
// fails on its own (deserialization is assumed complete); structural
// defects are reported separately by Validate.
func Build(routine RoutineDefinition) *ExecutionGraph {
	g := &ExecutionGraph{
		Nodes:         make(map[string]*Node, len(routine.Nodes)),
		Edges:         make([]*Edge, 0, len(routine.Connections)),
		EdgesBySource: make(map[string][]*Edge),
		EdgesByTarget: make(map[string][]*Edge),
		Variables:     make(map[string]RoutineVariable, len(routine.Variables)),
		TriggerData:   routine.TriggerData,
	}

	for i := range routine.Nodes {
		n := routine.Nodes[i]
		g.Nodes[n.ID] = &n
	}

	for i := range routine.Connections {
		e := routine.Connections[i]
		g.Edges = append(g.Edges, &e)
		g.EdgesBySource[e.SourceNodeID] = append(g.EdgesBySource[e.SourceNodeID], &e)
		g.EdgesByTarget[e.TargetNodeID] = append(g.EdgesByTarget[e.TargetNodeID], &e)
	}

	for _, v := range routine.Variables {
		g.Variables[v.Name] = v
	}

	return g
}

// InEdges returns the edges terminating at nodeID, i.e. its upstream
// dependencies.
func (g *ExecutionGraph) InEdges(nodeID string) []*Edge {
	return g.EdgesByTarget[nodeID]
}

// OutEdges returns the edges originating at nodeID, i.e. its
// downstream consumers.
func (g *ExecutionGraph) OutEdges(nodeID string) []*Edge {
	return g.EdgesBySource[nodeID]
}

// EntryNodes returns the nodes with no incoming edges, in the order
// they appear in g.Nodes iteration is not guaranteed stable; callers
// that need determinism should sort the result.
func (g *ExecutionGraph) EntryNodes() []string {
	var entries []string
	for id := range g.Nodes {
		if len(g.EdgesByTarget[id]) == 0 {
			entries = append(entries, id)
		}
	}
	return entries
}
