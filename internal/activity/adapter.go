package activity

import (
	"context"

	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/expr"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/state"
)

// ExpressionContextFactory builds the {vars, nodes, trigger, execution}
// context a node's parameters resolve against. The engine orchestrator
// owns the routine's variables, trigger payload, and ExecutionState, so
// it is the natural implementer.
type ExpressionContextFactory interface {
	Build(node *graph.Node, loopCtx execctx.LoopContext) expr.ExpressionContext
}

// BoundPort adapts a Port into the runner.Activity interface by
// supplying the per-invocation ExpressionContext the bare Port needs.
type BoundPort struct {
	port       *Port
	ctxFactory ExpressionContextFactory
}

func NewBoundPort(port *Port, ctxFactory ExpressionContextFactory) *BoundPort {
	return &BoundPort{port: port, ctxFactory: ctxFactory}
}

func (b *BoundPort) Invoke(ctx context.Context, node *graph.Node, inputs map[string][]state.Item, loopCtx execctx.LoopContext) (state.NodeOutput, error) {
	exprCtx := b.ctxFactory.Build(node, loopCtx)
	return b.port.Invoke(ctx, node, inputs, loopCtx, exprCtx)
}
