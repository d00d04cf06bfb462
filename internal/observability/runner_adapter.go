package observability

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/state"
)

// BoundObserver adapts a Sink, fixed to one executionID, into
// runner.Observer's narrower per-node callback shape. NodeRetried has
// no analogue in spec.md §4.7's five sink methods, so it is logged
// directly rather than forwarded to the sink.
type BoundObserver struct {
	sink        Sink
	executionID string
	log         zerolog.Logger
}

func NewBoundObserver(sink Sink, executionID string, log zerolog.Logger) *BoundObserver {
	return &BoundObserver{sink: sink, executionID: executionID, log: log}
}

func (b *BoundObserver) NodeStarted(nodeID, contextKey string) {
	b.sink.NodeStarted(context.Background(), b.executionID, nodeID, contextKey)
}

func (b *BoundObserver) NodeCompleted(nodeID, contextKey string, outputs state.NodeOutput) {
	b.sink.NodeCompleted(context.Background(), b.executionID, nodeID, contextKey, outputs)
}

func (b *BoundObserver) NodeFailed(nodeID, contextKey string, err *engineerr.EngineError) {
	b.sink.NodeFailed(context.Background(), b.executionID, nodeID, contextKey, err)
}

func (b *BoundObserver) NodeRetried(nodeID, contextKey string, attempt int, err *engineerr.EngineError) {
	b.log.Info().
		Str("node", nodeID).
		Str("contextKey", contextKey).
		Int("attempt", attempt).
		Str("errorKind", string(err.Kind)).
		Msg("retrying node activity")
}
