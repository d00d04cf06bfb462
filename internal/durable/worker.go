package durable

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// RunWorker dials a Temporal cluster, registers RoutineWorkflow and
// ExecutePluginActivity against taskQueue, and blocks serving tasks
// until the process receives an interrupt (worker.Run installs its own
// SIGINT/SIGTERM handler, matching the teacher's worker entrypoint's
// own signal-driven shutdown one layer up in cmd/worker).
//
// sink, if non-nil, becomes DefaultSink before the worker starts
// polling: RoutineWorkflow's local activities read that package
// variable rather than taking a Sink as part of its (Temporal-fixed)
// signature, since there is no per-call registration seam for local
// activities to inject one through. A nil sink leaves DefaultSink at
// its noopSink zero value.
func RunWorker(hostPort, namespace, taskQueue string, activities *Activities, sink Sink) error {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if sink != nil {
		DefaultSink = sink
	}

	c, err := client.Dial(client.Options{HostPort: hostPort, Namespace: namespace})
	if err != nil {
		return fmt.Errorf("durable: dial temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RoutineWorkflow)
	w.RegisterActivity(activities.ExecutePluginActivity)

	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("durable: worker run: %w", err)
	}
	return nil
}
