// Package runner implements the Task Runner of spec.md §4.5: it drains
// ready batches from the GraphIterator, dispatches each task to the
// Plugin Activity Port under a bounded concurrency cap, and applies
// retry/backoff and circuit breaking around each attempt.
package runner

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/observability"
	"github.com/citadel-agent/routines/internal/scheduler"
	"github.com/citadel-agent/routines/internal/state"
)

// Activity is the Task Runner's view of the Plugin Activity Port
// (spec.md §4.6): given a node and its gathered inputs, produce a
// port-keyed set of output items or fail.
type Activity interface {
	Invoke(ctx context.Context, node *graph.Node, inputs map[string][]state.Item, loopCtx execctx.LoopContext) (state.NodeOutput, error)
}

// Observer receives best-effort lifecycle notifications (spec.md §4.7).
// A nil Observer is valid; every method is a no-op in that case.
type Observer interface {
	NodeStarted(nodeID, contextKey string)
	NodeCompleted(nodeID, contextKey string, outputs state.NodeOutput)
	NodeFailed(nodeID, contextKey string, err *engineerr.EngineError)
	NodeRetried(nodeID, contextKey string, attempt int, err *engineerr.EngineError)
}

// RetryPolicy mirrors spec.md §6's activityRetry contract.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// DefaultRetryPolicy is spec.md §6's documented default.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval:    1 * time.Second,
	BackoffCoefficient: 2,
	MaximumInterval:    60 * time.Second,
	MaximumAttempts:    3,
}

// Config is the subset of spec.md §6's RunnerOptions the Task Runner
// consumes directly.
type Config struct {
	MaxConcurrentActivities     int
	ActivityStartToCloseTimeout time.Duration
	ActivityRetry               RetryPolicy
	// ExecutionDeadline bounds the whole Run call, not a single
	// activity attempt. Zero means no deadline.
	ExecutionDeadline time.Duration
}

// DefaultConfig matches spec.md §6's documented defaults.
var DefaultConfig = Config{
	MaxConcurrentActivities:     20,
	ActivityStartToCloseTimeout: 5 * time.Minute,
	ActivityRetry:               DefaultRetryPolicy,
}

// Runner drives one execution's iterator to completion.
type Runner struct {
	cfg      Config
	activity Activity
	observer Observer
	log      zerolog.Logger

	sem chan struct{}

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	inFlightMu sync.Mutex
	inFlight   map[string]scheduler.Task

	metrics   *observability.MetricsService
	telemetry *observability.TelemetryService
}

// WithMetrics attaches a MetricsService; task executions, retries and
// circuit breaker state changes are recorded against it from then on. A
// nil argument is a safe no-op, so callers that don't care
// about metrics can skip this entirely.
func (r *Runner) WithMetrics(m *observability.MetricsService) *Runner {
	r.metrics = m
	return r
}

// WithTelemetry attaches a TelemetryService; each plugin task attempt
// runs inside its own span from then on.
func (r *Runner) WithTelemetry(t *observability.TelemetryService) *Runner {
	r.telemetry = t
	return r
}

func New(cfg Config, activity Activity, observer Observer, log zerolog.Logger) *Runner {
	if cfg.MaxConcurrentActivities <= 0 {
		cfg.MaxConcurrentActivities = DefaultConfig.MaxConcurrentActivities
	}
	if cfg.ActivityRetry.MaximumAttempts <= 0 {
		cfg.ActivityRetry = DefaultRetryPolicy
	}
	return &Runner{
		cfg:      cfg,
		activity: activity,
		observer: observer,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConcurrentActivities),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		inFlight: make(map[string]scheduler.Task),
	}
}

// Run drives it to completion against g/st, dispatching ready batches
// through the Activity and feeding results back into the iterator
// until either the routine finishes, one task returns a fatal error, or
// ctx is cancelled. It never exceeds cfg.MaxConcurrentActivities tasks
// in flight at once (spec.md §8 invariant 8).
func (r *Runner) Run(ctx context.Context, it *scheduler.Iterator, g *graph.ExecutionGraph, st *state.ExecutionState) error {
	if r.cfg.ExecutionDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ExecutionDeadline)
		defer cancel()
	}

	var wg sync.WaitGroup
	completions := make(chan struct{}, 1)

	var failMu sync.Mutex
	var fatal *engineerr.EngineError

	notify := func() {
		select {
		case completions <- struct{}{}:
		default:
		}
	}

	// onCancel waits for in-flight activities to finish for at most
	// their per-activity deadline before giving up on them; anything
	// still running past that grace period is abandoned and recorded
	// as aborted rather than blocking Run indefinitely (spec.md §4.5).
	onCancel := func() error {
		if !r.awaitGrace(&wg, r.cfg.ActivityStartToCloseTimeout) {
			r.abandonInFlight(it)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.recordExecution("timeout")
			return engineerr.NewTimeoutError()
		}
		r.recordExecution("cancelled")
		return engineerr.NewCancelledError()
	}

	for {
		if ctx.Err() != nil {
			return onCancel()
		}

		failMu.Lock()
		f := fatal
		failMu.Unlock()
		if f != nil {
			wg.Wait()
			r.recordExecution("failed")
			return f
		}

		if it.IsDone() {
			wg.Wait()
			r.recordExecution("completed")
			return nil
		}

		batch := it.NextBatch(time.Now())
		if len(batch) == 0 {
			if it.Stalled() {
				wg.Wait()
				r.recordExecution("stalled")
				return engineerr.NewStalledError("no ready tasks and no running tasks, but targets remain pending")
			}
			select {
			case <-completions:
			case <-ctx.Done():
				return onCancel()
			}
			continue
		}

		for _, task := range batch {
			node := g.Nodes[task.NodeID]
			wg.Add(1)
			go func(task scheduler.Task, node *graph.Node) {
				defer wg.Done()
				defer notify()
				r.runOne(ctx, it, task, node, func(ee *engineerr.EngineError) {
					if !ee.Fatal() {
						return
					}
					failMu.Lock()
					if fatal == nil {
						fatal = ee
					}
					failMu.Unlock()
				})
			}(task, node)
		}
	}
}

func (r *Runner) runOne(ctx context.Context, it *scheduler.Iterator, task scheduler.Task, node *graph.Node, onFatal func(*engineerr.EngineError)) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	r.trackInFlight(task)
	defer r.untrackInFlight(task)

	if r.observer != nil {
		r.observer.NodeStarted(task.NodeID, task.Context.ContextKey())
	}

	inputs, err := it.GatherInputs(task)
	if err != nil {
		ee := engineerr.Wrap(engineerr.KindInvalidInput, "failed to gather inputs", err)
		r.fail(it, task, ee, onFatal)
		return
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.ActivityStartToCloseTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.ActivityStartToCloseTimeout)
		defer cancel()
	}

	outputs, ee := r.invokeWithRetry(attemptCtx, node, inputs, task)
	if ee != nil {
		r.fail(it, task, ee, onFatal)
		return
	}

	if err := it.MarkNodeCompleted(task, outputs, time.Now()); err != nil {
		ee := engineerr.Wrap(engineerr.KindPluginFatal, "scheduler rejected completion", err)
		r.fail(it, task, ee, onFatal)
		return
	}
	if r.observer != nil {
		r.observer.NodeCompleted(task.NodeID, task.Context.ContextKey(), outputs)
	}
}

func (r *Runner) trackInFlight(task scheduler.Task) {
	r.inFlightMu.Lock()
	r.inFlight[task.Key()] = task
	r.inFlightMu.Unlock()
}

func (r *Runner) untrackInFlight(task scheduler.Task) {
	r.inFlightMu.Lock()
	delete(r.inFlight, task.Key())
	r.inFlightMu.Unlock()
}

// awaitGrace waits for wg to drain, giving up after grace if it hasn't.
// grace <= 0 means wait indefinitely. It reports whether wg finished
// within the grace period.
func (r *Runner) awaitGrace(wg *sync.WaitGroup, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if grace <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// abandonInFlight records every still-running task as aborted. Their
// goroutines are left to exit on their own once attemptCtx's own
// cancellation (derived from the same ctx Run was given) unblocks
// whatever the activity is doing; this only stops the Task Runner
// from waiting on them.
func (r *Runner) abandonInFlight(it *scheduler.Iterator) {
	r.inFlightMu.Lock()
	remaining := make([]scheduler.Task, 0, len(r.inFlight))
	for _, t := range r.inFlight {
		remaining = append(remaining, t)
	}
	r.inFlightMu.Unlock()

	for _, t := range remaining {
		ee := engineerr.NewAbortedError(t.NodeID)
		it.MarkNodeFailed(t, ee, time.Now())
		if r.observer != nil {
			r.observer.NodeFailed(t.NodeID, t.Context.ContextKey(), ee)
		}
	}
}

// recordExecution records Run's terminal status, if a MetricsService is
// attached.
func (r *Runner) recordExecution(status string) {
	if r.metrics != nil {
		r.metrics.RecordExecution(status)
	}
}

func (r *Runner) fail(it *scheduler.Iterator, task scheduler.Task, ee *engineerr.EngineError, onFatal func(*engineerr.EngineError)) {
	it.MarkNodeFailed(task, ee, time.Now())
	if r.observer != nil {
		r.observer.NodeFailed(task.NodeID, task.Context.ContextKey(), ee)
	}
	onFatal(ee)
}

// invokeWithRetry calls the activity, retrying transient failures per
// cfg.ActivityRetry with exponential backoff and jitter, through a
// per-plugin circuit breaker (spec.md §4.5/§4.6).
func (r *Runner) invokeWithRetry(ctx context.Context, node *graph.Node, inputs map[string][]state.Item, task scheduler.Task) (state.NodeOutput, *engineerr.EngineError) {
	breaker := r.breakerFor(node.PluginID)
	policy := r.cfg.ActivityRetry

	var lastErr *engineerr.EngineError
	for attempt := 1; attempt <= policy.MaximumAttempts; attempt++ {
		started := time.Now()
		attemptCtx := ctx
		var span trace.Span
		if r.telemetry != nil {
			attemptCtx, span = r.telemetry.StartTaskSpan(ctx, task.Context.ContextKey(), task.NodeID, node.PluginID)
		}

		result, cbErr := breaker.Execute(func() (any, error) {
			return r.activity.Invoke(attemptCtx, node, inputs, task.Context)
		})

		if cbErr == nil {
			if r.metrics != nil {
				r.metrics.RecordTaskExecution(node.PluginID, "success", time.Since(started))
			}
			if span != nil {
				span.SetStatus(codes.Ok, "")
				span.End()
			}
			return result.(state.NodeOutput), nil
		}

		ee := engineerr.AsEngineError(cbErr)
		lastErr = ee
		if r.metrics != nil {
			r.metrics.RecordTaskExecution(node.PluginID, "error", time.Since(started))
		}
		if span != nil {
			span.RecordError(cbErr)
			span.SetStatus(codes.Error, ee.Message)
			span.End()
		}

		if ee.Fatal() || !ee.Retryable() || attempt == policy.MaximumAttempts {
			if r.metrics != nil {
				r.metrics.RecordTaskError(node.PluginID, string(ee.Kind))
			}
			return nil, ee
		}
		if r.observer != nil {
			r.observer.NodeRetried(task.NodeID, task.Context.ContextKey(), attempt, ee)
		}
		if r.metrics != nil {
			r.metrics.RecordTaskRetry(node.PluginID)
		}

		delay := backoffDelay(policy, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, engineerr.NewTimeoutError()
		}
	}
	return nil, lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := float64(policy.InitialInterval) * math.Pow(policy.BackoffCoefficient, float64(attempt-1))
	if policy.MaximumInterval > 0 && d > float64(policy.MaximumInterval) {
		d = float64(policy.MaximumInterval)
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1) // +-10%
	return time.Duration(d * jitter)
}

func (r *Runner) breakerFor(pluginID string) *gobreaker.CircuitBreaker {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()

	if b, ok := r.breakers[pluginID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "plugin:" + pluginID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.metrics != nil {
				r.metrics.RecordCircuitState(pluginID, int(to))
			}
		},
	})
	r.breakers[pluginID] = b
	return b
}
