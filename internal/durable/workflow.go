// Package durable implements the Durable Driver of spec.md §4.8: a
// Temporal workflow that replays an execution's GraphIterator
// deterministically, dispatching each ready task as a Temporal activity
// and persisting nothing itself — Temporal's own event history is the
// durability mechanism, matching spec.md §4.8's "suspend/resume via the
// host runtime, not a bespoke journal" framing.
package durable

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/expr"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/scheduler"
	"github.com/citadel-agent/routines/internal/state"
)

// RoutineInput is the Temporal workflow's input, matching the
// RoutineInput contract of spec.md §6.
type RoutineInput struct {
	ExecutionID string
	Routine     graph.RoutineDefinition
	Config      Config
}

// Config mirrors spec.md §6's RunnerOptions, the fields the durable
// driver forwards into Temporal's ActivityOptions/RetryPolicy.
type Config struct {
	MaxConcurrentActivities     int
	ActivityStartToCloseTimeout time.Duration
	ActivityRetry               RetryPolicy
	ExecutionDeadline           time.Duration
}

type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int32
}

// DefaultConfig matches spec.md §6's documented defaults.
var DefaultConfig = Config{
	MaxConcurrentActivities:     20,
	ActivityStartToCloseTimeout: 5 * time.Minute,
	ActivityRetry: RetryPolicy{
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    60 * time.Second,
		MaximumAttempts:    3,
	},
}

// RoutineOutput is the Temporal workflow's result, matching spec.md
// §6's RoutineResult contract.
type RoutineOutput struct {
	ExecutionID string
	Status      string
	Path        []state.PathEntry
	Results     map[string]state.NodeResult
	Error       *engineerr.EngineError
}

// RoutineWorkflow is the Temporal workflow entry point. It generalizes
// the teacher's CitadelAgentWorkflow from a depth-ordered, stub-driven
// dependency walk (its getConnectionsToNode is an unimplemented no-op)
// into a real graph-backed scheduler: readiness, pruning, and loop
// contexts are delegated entirely to internal/scheduler.Iterator, the
// same component internal/runner drives for in-process execution.
func RoutineWorkflow(ctx workflow.Context, input RoutineInput) (RoutineOutput, error) {
	logger := workflow.GetLogger(ctx)
	cfg := input.Config
	if cfg.MaxConcurrentActivities <= 0 {
		cfg = DefaultConfig
	}

	sa := &SinkActivities{Sink: DefaultSink}
	laOpts := workflow.LocalActivityOptions{ScheduleToCloseTimeout: 5 * time.Second}
	laCtx := workflow.WithLocalActivityOptions(ctx, laOpts)

	vr := graph.Validate(input.Routine)
	if !vr.Valid {
		// Validation failing before ExecutionCreated is recorded means the
		// sink never gets per-node entries for this execution, only the
		// terminal ExecutionUpdated(status=failed) below (spec.md §8
		// scenario 6).
		ee := engineerr.NewValidationError(vr.Errors[0].Message)
		workflow.ExecuteLocalActivity(laCtx, sa.RecordExecutionUpdated, input.ExecutionID, "failed", workflow.Now(ctx)).Get(laCtx, nil)
		return RoutineOutput{
			ExecutionID: input.ExecutionID,
			Status:      "failed",
			Error:       ee,
		}, nil
	}

	workflow.ExecuteLocalActivity(laCtx, sa.RecordExecutionCreated, input.ExecutionID, input.Routine.RoutineID, input.Routine.UserID, workflow.Now(ctx)).Get(laCtx, nil)

	g := graph.Build(input.Routine)
	st := state.New()
	it := scheduler.New(g, st)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: cfg.ActivityStartToCloseTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    cfg.ActivityRetry.InitialInterval,
			BackoffCoefficient: cfg.ActivityRetry.BackoffCoefficient,
			MaximumInterval:    cfg.ActivityRetry.MaximumInterval,
			MaximumAttempts:    cfg.ActivityRetry.MaximumAttempts,
			NonRetryableErrorTypes: []string{
				string(engineerr.KindValidation), string(engineerr.KindPluginNotFound),
				string(engineerr.KindInvalidInput), string(engineerr.KindInvalidOutput),
				string(engineerr.KindMissingCredentials), string(engineerr.KindPluginFatal),
			},
		},
	}
	actCtx := workflow.WithActivityOptions(ctx, ao)

	d := &driver{
		ctx:         actCtx,
		laCtx:       laCtx,
		executionID: input.ExecutionID,
		sink:        sa,
		g:           g,
		st:          st,
		it:          it,
		vars:        variablesMap(input.Routine),
		trigger:     input.Routine.TriggerData,
		maxInFlight: cfg.MaxConcurrentActivities,
		selector:    workflow.NewSelector(ctx),
	}

	if cfg.ExecutionDeadline > 0 {
		var cancel workflow.CancelFunc
		d.ctx, cancel = workflow.WithCancel(actCtx)
		defer cancel()
		deadline := workflow.NewTimer(d.ctx, cfg.ExecutionDeadline)
		d.selector.AddFuture(deadline, func(f workflow.Future) {
			if d.fatal == nil {
				d.fatal = engineerr.NewTimeoutError()
			}
			cancel()
		})
	}

	if fatalErr := d.run(); fatalErr != nil {
		logger.Error("routine execution failed", "executionId", input.ExecutionID, "error", fatalErr.Error())
		workflow.ExecuteLocalActivity(laCtx, sa.RecordExecutionUpdated, input.ExecutionID, "failed", workflow.Now(ctx)).Get(laCtx, nil)
		return RoutineOutput{
			ExecutionID: input.ExecutionID,
			Status:      "failed",
			Path:        st.Path(),
			Results:     snapshotResults(st),
			Error:       fatalErr,
		}, nil
	}

	workflow.ExecuteLocalActivity(laCtx, sa.RecordExecutionUpdated, input.ExecutionID, "completed", workflow.Now(ctx)).Get(laCtx, nil)
	return RoutineOutput{
		ExecutionID: input.ExecutionID,
		Status:      "completed",
		Path:        st.Path(),
		Results:     snapshotResults(st),
	}, nil
}

// driver holds one workflow execution's in-flight dispatch state. It
// is not reused across workflow runs.
type driver struct {
	ctx          workflow.Context
	laCtx        workflow.Context
	executionID  string
	sink         *SinkActivities
	g            *graph.ExecutionGraph
	st           *state.ExecutionState
	it           *scheduler.Iterator
	vars         map[string]any
	trigger      map[string]any
	maxInFlight  int
	selector     workflow.Selector
	inFlight     int
	pendingTasks []scheduler.Task
	fatal        *engineerr.EngineError
}

func (d *driver) run() *engineerr.EngineError {
	d.refill()
	for !d.it.IsDone() {
		if d.inFlight == 0 && len(d.pendingTasks) == 0 {
			if d.it.Stalled() {
				return engineerr.NewStalledError("no ready tasks and no running tasks, but targets remain pending")
			}
			break
		}
		d.selector.Select(d.ctx)
		if ee := d.fatal; ee != nil {
			return ee
		}
		d.refill()
	}
	return d.fatal
}

func (d *driver) refill() {
	for d.inFlight < d.maxInFlight {
		if len(d.pendingTasks) == 0 {
			d.pendingTasks = d.it.NextBatch(workflow.Now(d.ctx))
			if len(d.pendingTasks) == 0 {
				return
			}
		}
		task := d.pendingTasks[0]
		d.pendingTasks = d.pendingTasks[1:]
		d.dispatch(task)
	}
}

func (d *driver) dispatch(task scheduler.Task) {
	node := d.g.Nodes[task.NodeID]

	inputs, err := d.it.GatherInputs(task)
	if err != nil {
		d.completeFailed(task, engineerr.Wrap(engineerr.KindInvalidInput, "failed to gather inputs", err))
		return
	}

	exprCtx := expr.ExpressionContext{
		Vars:    d.vars,
		Nodes:   d.st,
		LoopCtx: task.Context,
		Trigger: d.trigger,
	}
	resolvedParams, rerr := expr.Resolve(node.Parameters, exprCtx)
	if rerr != nil {
		d.completeFailed(task, engineerr.NewInvalidInputError("parameter resolution failed", rerr))
		return
	}
	paramsMap, _ := resolvedParams.(map[string]any)

	ai := ActivityInput{
		NodeID:             node.ID,
		PluginID:           node.PluginID,
		Parameters:         paramsMap,
		Inputs:             flattenInputs(inputs),
		CredentialMappings: node.CredentialMappings,
	}

	contextKey := task.Context.ContextKey()
	workflow.ExecuteLocalActivity(d.laCtx, d.sink.RecordNodeStarted, d.executionID, node.ID, contextKey).Get(d.laCtx, nil)

	d.inFlight++
	future := workflow.ExecuteActivity(d.ctx, ExecutePluginActivity, ai)
	d.selector.AddFuture(future, func(f workflow.Future) {
		d.inFlight--
		var out ActivityOutput
		if err := f.Get(d.ctx, &out); err != nil {
			d.completeFailed(task, classifyActivityError(err))
			return
		}
		nodeOutput := toNodeOutput(node.ID, out)
		if err := d.it.MarkNodeCompleted(task, nodeOutput, workflow.Now(d.ctx)); err != nil {
			d.completeFailed(task, engineerr.Wrap(engineerr.KindPluginFatal, "scheduler rejected completion", err))
			return
		}
		workflow.ExecuteLocalActivity(d.laCtx, d.sink.RecordNodeCompleted, d.executionID, node.ID, contextKey, nodeOutput).Get(d.laCtx, nil)
	})
}

// classifyActivityError recovers the original EngineError Kind from an
// activity failure. Temporal wraps whatever ExecutePluginActivity
// returned in a *temporal.ActivityError; asApplicationError (see
// activities.go) carried the Kind across that boundary as the
// ApplicationError's Type, so that round-trips back out here. An error
// Temporal couldn't attribute to our own ApplicationError (a host
// crash, a timeout) is treated as retryable, matching AsEngineError's
// default for an unclassified error.
func classifyActivityError(err error) *engineerr.EngineError {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return engineerr.New(engineerr.Kind(appErr.Type()), appErr.Error())
	}
	return engineerr.NewPluginRetryableError(err)
}

func (d *driver) completeFailed(task scheduler.Task, ee *engineerr.EngineError) {
	d.it.MarkNodeFailed(task, ee, workflow.Now(d.ctx))
	workflow.ExecuteLocalActivity(d.laCtx, d.sink.RecordNodeFailed, d.executionID, task.NodeID, task.Context.ContextKey(), ee).Get(d.laCtx, nil)
	if ee.Fatal() && d.fatal == nil {
		d.fatal = ee
	}
}

func variablesMap(routine graph.RoutineDefinition) map[string]any {
	out := make(map[string]any, len(routine.Variables))
	for _, v := range routine.Variables {
		out[v.Name] = v.Value
	}
	return out
}

func snapshotResults(st *state.ExecutionState) map[string]state.NodeResult {
	return st.All()
}
