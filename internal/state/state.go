// Package state implements the per-execution Execution State: results
// keyed by (nodeId, contextKey), the ordered execution path, and the
// aggregated error list (spec.md §4.3).
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/execctx"
)

// NodeStatus mirrors the per-node states of spec.md §4.9.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// ItemMetadata describes the provenance of a single output item.
type ItemMetadata struct {
	SourceNode string
	SourcePort string
	Iteration  int
}

// Item is a single piece of data flowing across an edge. An item whose
// Data is nil represents a legal "null" payload (one item, not an
// empty port) per spec.md §8 boundary behaviors.
type Item struct {
	Data     any
	Metadata ItemMetadata
	Error    *string
}

// NodeOutput is a port-keyed map of items produced by one node
// invocation. A port key with an empty (or absent) slice means "this
// branch did not fire" for the purposes of scheduler readiness.
type NodeOutput map[string][]Item

// NodeResult is the terminal (or in-flight) record for one
// (nodeId, contextKey) pair.
type NodeResult struct {
	NodeID      string
	ContextKey  string
	Status      NodeStatus
	Outputs     NodeOutput
	StartedAt   time.Time
	CompletedAt time.Time
	Error       *engineerr.EngineError
	RetryCount  int
}

// PathEntry is one entry in the append-only execution path.
type PathEntry struct {
	NodeID     string
	ContextKey string
	RunIndex   int
}

// ExecutionState holds all per-execution bookkeeping. Writes arrive
// through the scheduler's Iterator under its own lock, but the Task
// Runner's goroutines also read results (GatherInputs) outside that
// lock, so the mutex here guards those concurrent reads and writes.
type ExecutionState struct {
	mu      sync.RWMutex
	results map[string]*NodeResult
	path    []PathEntry
	errors  []*engineerr.EngineError
}

func New() *ExecutionState {
	return &ExecutionState{
		results: make(map[string]*NodeResult),
	}
}

func key(nodeID string, ctx execctx.LoopContext) string {
	return execctx.StateKey(nodeID, ctx)
}

// StartNode records a node transitioning to running. It is an error
// (per invariant 3 of spec.md §8) to start a node that already has a
// terminal result for the same context.
func (s *ExecutionState) StartNode(nodeID string, ctx execctx.LoopContext, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(nodeID, ctx)
	if existing, ok := s.results[k]; ok && isTerminal(existing.Status) {
		return fmt.Errorf("state: node %q context %q already has a terminal result (status=%s)", nodeID, ctx.ContextKey(), existing.Status)
	}
	s.results[k] = &NodeResult{
		NodeID:     nodeID,
		ContextKey: ctx.ContextKey(),
		Status:     NodeRunning,
		StartedAt:  startedAt,
	}
	return nil
}

// Complete records a successful terminal result and appends to the
// execution path.
func (s *ExecutionState) Complete(nodeID string, ctx execctx.LoopContext, outputs NodeOutput, completedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(nodeID, ctx)
	r, ok := s.results[k]
	if !ok {
		r = &NodeResult{NodeID: nodeID, ContextKey: ctx.ContextKey()}
		s.results[k] = r
	}
	r.Status = NodeCompleted
	r.Outputs = outputs
	r.CompletedAt = completedAt
	s.path = append(s.path, PathEntry{NodeID: nodeID, ContextKey: ctx.ContextKey(), RunIndex: len(s.path)})
}

// Fail records a failed terminal result and appends it to the
// aggregated error list.
func (s *ExecutionState) Fail(nodeID string, ctx execctx.LoopContext, err *engineerr.EngineError, completedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(nodeID, ctx)
	r, ok := s.results[k]
	if !ok {
		r = &NodeResult{NodeID: nodeID, ContextKey: ctx.ContextKey()}
		s.results[k] = r
	}
	r.Status = NodeFailed
	r.Error = err
	r.CompletedAt = completedAt
	s.errors = append(s.errors, err)
}

// Skip marks a node as skipped (all incoming branches pruned) without
// adding it to the execution path.
func (s *ExecutionState) Skip(nodeID string, ctx execctx.LoopContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(nodeID, ctx)
	s.results[k] = &NodeResult{
		NodeID:     nodeID,
		ContextKey: ctx.ContextKey(),
		Status:     NodeSkipped,
	}
}

// Get returns a defensive copy of the result for (nodeID, ctx), if any.
func (s *ExecutionState) Get(nodeID string, ctx execctx.LoopContext) (NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[key(nodeID, ctx)]
	if !ok {
		return NodeResult{}, false
	}
	return *r, true
}

// All returns a defensive copy of every recorded result, keyed by its
// full (nodeId, contextKey) StateKey.
func (s *ExecutionState) All() map[string]NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeResult, len(s.results))
	for k, r := range s.results {
		out[k] = *r
	}
	return out
}

// Path returns a copy of the ordered execution path.
func (s *ExecutionState) Path() []PathEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PathEntry(nil), s.path...)
}

// Errors returns a copy of the aggregated error list.
func (s *ExecutionState) Errors() []*engineerr.EngineError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*engineerr.EngineError(nil), s.errors...)
}

func isTerminal(status NodeStatus) bool {
	return status == NodeCompleted || status == NodeFailed || status == NodeSkipped
}
