// Package observability implements the Observability Sink of spec.md
// §4.7: a best-effort, Redis-backed emitter of execution/node lifecycle
// events. A sink failure never aborts a routine execution — it is
// logged and swallowed, per spec.md §4.7's explicit "best effort"
// contract.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/state"
)

// Sink is the five-method interface spec.md §4.7 names.
type Sink interface {
	ExecutionCreated(ctx context.Context, executionID, routineID, userID string, startedAt time.Time)
	NodeStarted(ctx context.Context, executionID, nodeID, contextKey string)
	NodeCompleted(ctx context.Context, executionID, nodeID, contextKey string, outputs state.NodeOutput)
	NodeFailed(ctx context.Context, executionID, nodeID, contextKey string, err *engineerr.EngineError)
	ExecutionUpdated(ctx context.Context, executionID string, status string, completedAt time.Time)
}

// entryKey is the idempotency key a running-entry upsert is keyed by
// (Open Question c): one logical record per (executionId, nodeId,
// iteration), overwritten in place rather than appended.
type entryKey struct {
	executionID string
	nodeID      string
	contextKey  string
}

func (k entryKey) redisKey() string {
	return fmt.Sprintf("routine:node:%s:%s:%s", k.executionID, k.nodeID, k.contextKey)
}

// RedisSink persists lifecycle events to Redis hashes, one per
// (execution, node, context) plus one per execution, matching the
// StateStorage CRUD shape the teacher's engine package exposes but
// backed by Redis instead of an in-memory map.
type RedisSink struct {
	client *redis.Client
	log    zerolog.Logger
	ttl    time.Duration
}

func NewRedisSink(client *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{client: client, log: log, ttl: 24 * time.Hour}
}

func (s *RedisSink) ExecutionCreated(ctx context.Context, executionID, routineID, userID string, startedAt time.Time) {
	s.upsert(ctx, executionKey(executionID), map[string]any{
		"routineId": routineID,
		"userId":    userID,
		"status":    "running",
		"startedAt": startedAt.Format(time.RFC3339Nano),
	})
}

func (s *RedisSink) NodeStarted(ctx context.Context, executionID, nodeID, contextKey string) {
	s.upsert(ctx, entryKey{executionID, nodeID, contextKey}.redisKey(), map[string]any{
		"status":    "running",
		"startedAt": time.Now().Format(time.RFC3339Nano),
	})
}

func (s *RedisSink) NodeCompleted(ctx context.Context, executionID, nodeID, contextKey string, outputs state.NodeOutput) {
	payload, err := json.Marshal(outputs)
	if err != nil {
		s.log.Warn().Err(err).Str("node", nodeID).Msg("observability: failed to marshal node outputs")
		payload = []byte("null")
	}
	s.upsert(ctx, entryKey{executionID, nodeID, contextKey}.redisKey(), map[string]any{
		"status":      "completed",
		"outputs":     string(payload),
		"completedAt": time.Now().Format(time.RFC3339Nano),
	})
}

func (s *RedisSink) NodeFailed(ctx context.Context, executionID, nodeID, contextKey string, nodeErr *engineerr.EngineError) {
	s.upsert(ctx, entryKey{executionID, nodeID, contextKey}.redisKey(), map[string]any{
		"status":      "failed",
		"errorKind":   string(nodeErr.Kind),
		"errorMsg":    nodeErr.Message,
		"completedAt": time.Now().Format(time.RFC3339Nano),
	})
}

func (s *RedisSink) ExecutionUpdated(ctx context.Context, executionID string, status string, completedAt time.Time) {
	s.upsert(ctx, executionKey(executionID), map[string]any{
		"status":      status,
		"completedAt": completedAt.Format(time.RFC3339Nano),
	})
}

// upsert writes fields to key as a Redis hash and best-effort refreshes
// its TTL. Any error is logged, never returned: per spec.md §4.7 the
// sink must never cause an execution to fail.
func (s *RedisSink) upsert(ctx context.Context, key string, fields map[string]any) {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("observability: sink write failed")
		return
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("observability: sink ttl refresh failed")
	}
}

func executionKey(executionID string) string {
	return "routine:execution:" + executionID
}

// ExecutionStatus reads back the execution-level hash ExecutionCreated/
// ExecutionUpdated maintain, for the read-only status API
// (cmd/routineapi) to expose over HTTP. HGETALL on a missing key
// yields an empty map and a nil error, so "not found" shows up as an
// empty result; a non-nil error is a genuine Redis failure.
func (s *RedisSink) ExecutionStatus(ctx context.Context, executionID string) (map[string]string, error) {
	return s.client.HGetAll(ctx, executionKey(executionID)).Result()
}

// NodeStatus reads back one node's (executionId, nodeId, contextKey)
// hash.
func (s *RedisSink) NodeStatus(ctx context.Context, executionID, nodeID, contextKey string) (map[string]string, error) {
	return s.client.HGetAll(ctx, entryKey{executionID, nodeID, contextKey}.redisKey()).Result()
}
