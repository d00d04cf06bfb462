package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/citadel-agent/routines/internal/graph"
)

// DefaultTaskQueue is the Temporal task queue routine workers poll and
// the durable client dispatches onto, unless overridden.
const DefaultTaskQueue = "citadel-routines"

// Client wraps the Temporal SDK client with the routine-execution
// surface the control API and trigger harness need: start an
// execution, fetch its terminal result, and inspect or cancel one in
// flight.
type Client struct {
	temporal  client.Client
	taskQueue string
}

// NewClient dials a Temporal cluster and returns a Client bound to
// taskQueue (DefaultTaskQueue if empty).
func NewClient(hostPort, namespace, taskQueue string) (*Client, error) {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	c, err := client.Dial(client.Options{HostPort: hostPort, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("durable: dial temporal: %w", err)
	}
	return &Client{temporal: c, taskQueue: taskQueue}, nil
}

// Close releases the underlying Temporal connection.
func (c *Client) Close() {
	c.temporal.Close()
}

// StartExecution starts one routine execution as a Temporal workflow
// and returns immediately with its workflow/run id pair; the execution
// continues asynchronously on a worker polling c.taskQueue.
func (c *Client) StartExecution(ctx context.Context, executionID string, routine graph.RoutineDefinition, cfg Config) (workflowID, runID string, err error) {
	opts := client.StartWorkflowOptions{
		ID:        "routine-" + executionID,
		TaskQueue: c.taskQueue,
	}
	run, err := c.temporal.ExecuteWorkflow(ctx, opts, RoutineWorkflow, RoutineInput{
		ExecutionID: executionID,
		Routine:     routine,
		Config:      cfg,
	})
	if err != nil {
		return "", "", fmt.Errorf("durable: start execution %q: %w", executionID, err)
	}
	return run.GetID(), run.GetRunID(), nil
}

// AwaitResult blocks until the named workflow run completes and
// returns its RoutineOutput.
func (c *Client) AwaitResult(ctx context.Context, workflowID, runID string) (RoutineOutput, error) {
	run := c.temporal.GetWorkflow(ctx, workflowID, runID)
	var out RoutineOutput
	if err := run.Get(ctx, &out); err != nil {
		return RoutineOutput{}, fmt.Errorf("durable: await result for %q: %w", workflowID, err)
	}
	return out, nil
}

// Cancel asks Temporal to cancel a running execution. RoutineWorkflow
// has no cancellation-specific handling: it records no "cancelled"
// status and returns no cancelled-kind error, and in-flight plugin
// activities ended by the cancellation are classified like any other
// activity failure.
func (c *Client) Cancel(ctx context.Context, workflowID, runID string) error {
	return c.temporal.CancelWorkflow(ctx, workflowID, runID)
}

// Terminate force-stops a running execution without letting workflow
// code observe the cancellation, for operator use only.
func (c *Client) Terminate(ctx context.Context, workflowID, runID, reason string) error {
	return c.temporal.TerminateWorkflow(ctx, workflowID, runID, reason)
}

// ListRunning returns up to pageSize running routine executions,
// paginating via nextPageToken exactly as client.WorkflowListRequest
// does.
func (c *Client) ListRunning(ctx context.Context, pageSize int, nextPageToken []byte) (*client.WorkflowListIterator, error) {
	return c.temporal.ListWorkflow(ctx, &client.WorkflowListRequest{
		PageSize:      int32(pageSize),
		NextPageToken: nextPageToken,
		Query:         "WorkflowType = 'RoutineWorkflow' AND ExecutionStatus = 'Running'",
	}), nil
}

// History renders a workflow's event history as newline-delimited JSON,
// for operator debugging of a stuck or failed execution.
func (c *Client) History(ctx context.Context, workflowID, runID string) ([]byte, error) {
	iter := c.temporal.GetWorkflowHistory(ctx, workflowID, runID, false, 0)
	var out []byte
	for iter.HasNext() {
		event, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("durable: read history for %q: %w", workflowID, err)
		}
		line, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("durable: marshal history event: %w", err)
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}
