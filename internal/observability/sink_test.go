package observability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/state"
)

func newTestSink(t *testing.T) (*RedisSink, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisSink(client, zerolog.Nop()), client
}

func TestRedisSink_ExecutionLifecycle(t *testing.T) {
	sink, client := newTestSink(t)
	ctx := context.Background()

	sink.ExecutionCreated(ctx, "exec1", "r1", "u1", time.Now())
	fields, err := client.HGetAll(ctx, executionKey("exec1")).Result()
	require.NoError(t, err)
	require.Equal(t, "running", fields["status"])
	require.Equal(t, "r1", fields["routineId"])

	sink.ExecutionUpdated(ctx, "exec1", "completed", time.Now())
	fields, err = client.HGetAll(ctx, executionKey("exec1")).Result()
	require.NoError(t, err)
	require.Equal(t, "completed", fields["status"])
}

func TestRedisSink_NodeLifecycleUpsertsSameKey(t *testing.T) {
	sink, client := newTestSink(t)
	ctx := context.Background()
	k := entryKey{"exec1", "A", ""}.redisKey()

	sink.NodeStarted(ctx, "exec1", "A", "")
	fields, err := client.HGetAll(ctx, k).Result()
	require.NoError(t, err)
	require.Equal(t, "running", fields["status"])

	sink.NodeCompleted(ctx, "exec1", "A", "", state.NodeOutput{"out": {{Data: float64(21)}}})
	fields, err = client.HGetAll(ctx, k).Result()
	require.NoError(t, err)
	require.Equal(t, "completed", fields["status"])
	require.Contains(t, fields["outputs"], "21")
}

func TestRedisSink_NodeFailedRecordsErrorKind(t *testing.T) {
	sink, client := newTestSink(t)
	ctx := context.Background()
	k := entryKey{"exec1", "B", "loopEdge:2"}.redisKey()

	sink.NodeFailed(ctx, "exec1", "B", "loopEdge:2", engineerr.NewPluginFatalError(nil))
	fields, err := client.HGetAll(ctx, k).Result()
	require.NoError(t, err)
	require.Equal(t, "failed", fields["status"])
	require.Equal(t, string(engineerr.KindPluginFatal), fields["errorKind"])
}

func TestRedisSink_ExecutionStatusReadsBackLatestFields(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()

	sink.ExecutionCreated(ctx, "exec1", "r1", "u1", time.Now())
	sink.ExecutionUpdated(ctx, "exec1", "completed", time.Now())

	fields, err := sink.ExecutionStatus(ctx, "exec1")
	require.NoError(t, err)
	require.Equal(t, "completed", fields["status"])
	require.Equal(t, "r1", fields["routineId"])
}

func TestRedisSink_NodeStatusReadsBackEntry(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()

	sink.NodeCompleted(ctx, "exec1", "A", "", state.NodeOutput{"out": {{Data: float64(21)}}})

	fields, err := sink.NodeStatus(ctx, "exec1", "A", "")
	require.NoError(t, err)
	require.Equal(t, "completed", fields["status"])
}

func TestRedisSink_WriteFailureIsSwallowed(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listening
	sink := NewRedisSink(client, zerolog.Nop())
	require.NotPanics(t, func() {
		sink.NodeStarted(context.Background(), "exec1", "A", "")
	})
}
