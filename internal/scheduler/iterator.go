// Package scheduler implements the GraphIterator: the dynamic,
// branch-aware scheduler of spec.md §4.4 that decides which nodes are
// ready, tracks loop iteration contexts, and surfaces a stream of
// ready tasks to the Task Runner.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/state"
)

// bodyPort and donePort are the two output ports a loop-node plugin is
// expected to declare (spec.md §4.4, §9). Any other port name is
// treated as a regular, non-loop edge.
const (
	bodyPort = "body"
	donePort = "done"
)

// Task is a (nodeId, contextKey) pair the iterator has determined is
// ready to run.
type Task struct {
	NodeID  string
	Context execctx.LoopContext
}

// Key returns the task's canonical (nodeId, contextKey) identity.
func (t Task) Key() string {
	return execctx.StateKey(t.NodeID, t.Context)
}

type pendingTarget struct {
	ctx           execctx.LoopContext
	resolvedEdges map[string]bool
	firedEdges    map[string][]state.Item
}

// Iterator is the GraphIterator. It owns the candidate queue, the
// running set, and loop-frame bookkeeping for one execution. Its
// mutating methods take an internal mutex, so the Task Runner's
// per-task goroutines may call it concurrently.
type Iterator struct {
	mu      sync.Mutex
	g       *graph.ExecutionGraph
	st      *state.ExecutionState
	queue   []Task
	running map[string]bool
	pending map[string]*pendingTarget // key = StateKey(targetNodeID, ctx)
}

// New builds an Iterator over g, seeding the queue with every entry
// node at the root LoopContext (spec.md §4.4 "initial population").
func New(g *graph.ExecutionGraph, st *state.ExecutionState) *Iterator {
	it := &Iterator{
		g:       g,
		st:      st,
		running: make(map[string]bool),
		pending: make(map[string]*pendingTarget),
	}
	entries := g.EntryNodes()
	sort.Strings(entries)
	for _, id := range entries {
		it.queue = append(it.queue, Task{NodeID: id, Context: execctx.Root})
	}
	return it
}

// NextBatch drains the currently ready tasks in deterministic order:
// lexicographic by (nodeId, contextKey). Each drained task is recorded
// as running in the Execution State at startedAt (spec.md §4.3's
// NodeResult.StartedAt); the caller supplies the timestamp rather than
// NextBatch calling time.Now() itself so the durable driver can pass a
// replay-safe workflow.Now(ctx) instead.
func (it *Iterator) NextBatch(startedAt time.Time) []Task {
	it.mu.Lock()
	defer it.mu.Unlock()

	batch := it.queue
	it.queue = nil
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].NodeID != batch[j].NodeID {
			return batch[i].NodeID < batch[j].NodeID
		}
		return batch[i].Context.ContextKey() < batch[j].Context.ContextKey()
	})
	for _, t := range batch {
		it.running[t.Key()] = true
		// A task drains from the queue at most once (the validator
		// rejects graphs that would re-fire a node under the same
		// context), so this can never collide with a terminal result.
		_ = it.st.StartNode(t.NodeID, t.Context, startedAt)
	}
	return batch
}

// IsDone reports whether the iterator has no more work: empty queue,
// no running tasks, and no targets still waiting on unresolved edges.
func (it *Iterator) IsDone() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.queue) == 0 && len(it.running) == 0 && len(it.pending) == 0
}

// HasRunningNodes reports whether any task is currently in flight.
func (it *Iterator) HasRunningNodes() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.running) > 0
}

// Stalled reports the deadlock condition of spec.md §4.4/§5: no
// running tasks, no queued tasks, but targets still waiting on edges
// that will never resolve.
func (it *Iterator) Stalled() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.running) == 0 && len(it.queue) == 0 && len(it.pending) > 0
}

// GatherInputs collects the input items for task's target node by
// following reverse edges under task's context, per spec.md §4.4.
func (it *Iterator) GatherInputs(task Task) (map[string][]state.Item, error) {
	inputs := make(map[string][]state.Item)
	for _, e := range it.g.InEdges(task.NodeID) {
		sourceCtx, err := it.sourceContextFor(e, task.Context)
		if err != nil {
			return nil, err
		}
		result, ok := it.st.Get(e.SourceNodeID, sourceCtx)
		if !ok || result.Outputs == nil {
			continue
		}
		items := result.Outputs[e.SourcePort]
		if e.SourcePort == bodyPort {
			// each iteration receives only the body item its frame was pushed for
			frame, _ := task.Context.Current()
			if frame.Iteration >= len(items) {
				continue
			}
			items = items[frame.Iteration : frame.Iteration+1]
		}
		inputs[e.TargetPort] = append(inputs[e.TargetPort], items...)
	}
	return inputs, nil
}

// sourceContextFor returns the LoopContext the source node of e ran
// under, given the target context targetCtx. A body edge pushed a
// frame onto the context when it fired, so its source ran one frame
// shallower; a done edge and ordinary edges propagate the same
// context unchanged.
func (it *Iterator) sourceContextFor(e *graph.Edge, targetCtx execctx.LoopContext) (execctx.LoopContext, error) {
	if e.SourcePort != bodyPort {
		return targetCtx, nil
	}
	if targetCtx.Depth() == 0 {
		return execctx.LoopContext{}, fmt.Errorf("scheduler: body edge %q target has no loop frame to pop", e.ID)
	}
	return targetCtx.Pop(), nil
}

// MarkNodeCompleted records a successful result and propagates
// readiness/pruning to downstream nodes.
func (it *Iterator) MarkNodeCompleted(task Task, outputs state.NodeOutput, completedAt time.Time) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	delete(it.running, task.Key())
	it.st.Complete(task.NodeID, task.Context, outputs, completedAt)

	for _, e := range it.g.OutEdges(task.NodeID) {
		items := outputs[e.SourcePort]
		if e.SourcePort == bodyPort {
			for i, item := range items {
				childCtx := task.Context.Push(execctx.Frame{EdgeID: e.ID, Iteration: i})
				if err := it.recordArrival(e, childCtx, []state.Item{item}); err != nil {
					return err
				}
			}
			continue
		}
		if err := it.recordArrival(e, task.Context, items); err != nil {
			return err
		}
	}
	return nil
}

// MarkNodeFailed records a failed terminal result. No downstream
// tasks are emitted for this context, matching spec.md §4.5/§7.
func (it *Iterator) MarkNodeFailed(task Task, err *engineerr.EngineError, completedAt time.Time) {
	it.mu.Lock()
	defer it.mu.Unlock()

	delete(it.running, task.Key())
	it.st.Fail(task.NodeID, task.Context, err, completedAt)
}

// recordArrival notes that edge e has resolved (fired with items, or
// resolved empty) for the target context ctx, and schedules or prunes
// the target once every one of its incoming edges has resolved.
func (it *Iterator) recordArrival(e *graph.Edge, ctx execctx.LoopContext, items []state.Item) error {
	key := execctx.StateKey(e.TargetNodeID, ctx)

	if it.running[key] {
		return fmt.Errorf("scheduler: node %q re-appeared under context %q while already running (cycle the validator should have rejected)", e.TargetNodeID, ctx.ContextKey())
	}
	if _, done := it.st.Get(e.TargetNodeID, ctx); done {
		return fmt.Errorf("scheduler: node %q re-appeared under context %q after already completing (cycle the validator should have rejected)", e.TargetNodeID, ctx.ContextKey())
	}

	p, ok := it.pending[key]
	if !ok {
		p = &pendingTarget{
			ctx:           ctx,
			resolvedEdges: make(map[string]bool),
			firedEdges:    make(map[string][]state.Item),
		}
		it.pending[key] = p
	}
	p.resolvedEdges[e.ID] = true
	if len(items) > 0 {
		p.firedEdges[e.ID] = items
	}

	required := it.g.InEdges(e.TargetNodeID)
	if len(p.resolvedEdges) < len(required) {
		return nil // still waiting on other upstream edges
	}

	delete(it.pending, key)
	if len(p.firedEdges) == 0 {
		// every incoming branch was empty/pruned: skip, and propagate
		// the pruning transitively to this node's own out-edges.
		it.st.Skip(e.TargetNodeID, ctx)
		for _, out := range it.g.OutEdges(e.TargetNodeID) {
			if out.SourcePort == bodyPort {
				continue // a skipped loop node never fires any iteration
			}
			if err := it.recordArrival(out, ctx, nil); err != nil {
				return err
			}
		}
		return nil
	}

	it.queue = append(it.queue, Task{NodeID: e.TargetNodeID, Context: ctx})
	return nil
}
