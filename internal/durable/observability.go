package durable

import (
	"context"
	"time"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/state"
)

// Sink mirrors internal/observability.Sink's five methods without
// importing that package, the same flattened-mirror pattern Registry/
// PluginFunc/CredentialStore already use at this activity boundary.
type Sink interface {
	ExecutionCreated(ctx context.Context, executionID, routineID, userID string, startedAt time.Time)
	NodeStarted(ctx context.Context, executionID, nodeID, contextKey string)
	NodeCompleted(ctx context.Context, executionID, nodeID, contextKey string, outputs state.NodeOutput)
	NodeFailed(ctx context.Context, executionID, nodeID, contextKey string, err *engineerr.EngineError)
	ExecutionUpdated(ctx context.Context, executionID string, status string, completedAt time.Time)
}

// SinkActivities adapts Sink's fire-and-forget methods (none of which
// return an error) into Temporal local activities, which must return
// one. The workflow dispatches these with workflow.ExecuteLocalActivity
// rather than a full activity: a sink write never needs the task-queue
// round trip or independent retry a plugin call does, only a
// replay-safe record that it happened.
type SinkActivities struct {
	Sink Sink
}

func (s *SinkActivities) RecordExecutionCreated(ctx context.Context, executionID, routineID, userID string, startedAt time.Time) error {
	s.Sink.ExecutionCreated(ctx, executionID, routineID, userID, startedAt)
	return nil
}

func (s *SinkActivities) RecordNodeStarted(ctx context.Context, executionID, nodeID, contextKey string) error {
	s.Sink.NodeStarted(ctx, executionID, nodeID, contextKey)
	return nil
}

func (s *SinkActivities) RecordNodeCompleted(ctx context.Context, executionID, nodeID, contextKey string, outputs state.NodeOutput) error {
	s.Sink.NodeCompleted(ctx, executionID, nodeID, contextKey, outputs)
	return nil
}

func (s *SinkActivities) RecordNodeFailed(ctx context.Context, executionID, nodeID, contextKey string, err *engineerr.EngineError) error {
	s.Sink.NodeFailed(ctx, executionID, nodeID, contextKey, err)
	return nil
}

func (s *SinkActivities) RecordExecutionUpdated(ctx context.Context, executionID, status string, completedAt time.Time) error {
	s.Sink.ExecutionUpdated(ctx, executionID, status, completedAt)
	return nil
}

// noopSink is DefaultSink's zero value: a RoutineWorkflow run without an
// observability backend wired in (e.g. workflow_test.go's replayed
// tests) records nothing rather than panicking on a nil Sink.
type noopSink struct{}

func (noopSink) ExecutionCreated(context.Context, string, string, string, time.Time)             {}
func (noopSink) NodeStarted(context.Context, string, string, string)                             {}
func (noopSink) NodeCompleted(context.Context, string, string, string, state.NodeOutput)          {}
func (noopSink) NodeFailed(context.Context, string, string, string, *engineerr.EngineError)       {}
func (noopSink) ExecutionUpdated(context.Context, string, string, time.Time)                      {}

// DefaultSink is the Sink RoutineWorkflow's local activities write
// through. A worker process sets it once, before polling starts
// (RunWorker does this when given a non-nil Sink) — local activities
// run in-process rather than through the task-queue registry
// ExecutePluginActivity uses, so there is no per-call registration seam
// to inject a real Sink through instead.
var DefaultSink Sink = noopSink{}
