package durable

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/observability"
	"github.com/citadel-agent/routines/internal/pluginschema"
	"github.com/citadel-agent/routines/internal/state"
)

// ActivityInput is the wire-shaped payload the workflow hands to
// ExecutePluginActivity. Parameters arrive already resolved: expression
// resolution is pure computation and runs in the deterministic workflow
// code, not here.
type ActivityInput struct {
	NodeID             string
	PluginID           string
	Parameters         map[string]any
	Inputs             map[string][]any
	CredentialMappings map[string]string
}

// ActivityOutput is the raw, port-keyed result ExecutePluginActivity
// returns to the workflow.
type ActivityOutput struct {
	Outputs map[string][]any
}

// Activities bundles the dependencies ExecutePluginActivity needs. A
// Temporal worker registers (*Activities).ExecutePluginActivity as the
// activity function; the workflow only ever references it by the
// package-level ExecutePluginActivity var for registration symmetry
// with workflow.ExecuteActivity calls that pass it by reference.
type Activities struct {
	Registry    Registry
	Credentials CredentialStore
	Metrics     *observability.MetricsService
	Telemetry   *observability.TelemetryService
}

// Registry resolves a plugin id to a callable Invoke function. It
// mirrors internal/activity.Registry's shape without importing that
// package, since the durable driver's activity boundary deliberately
// knows nothing about LoopContext or graph.Node — only the flattened
// wire types above.
type Registry interface {
	Lookup(pluginID string) (PluginFunc, bool)

	// Definition returns the plugin's declared schema, if it has one
	// (spec.md §6's PluginDefinition). The second return is false for a
	// plugin that does not declare a schema; ExecutePluginActivity skips
	// validation in that case.
	Definition(pluginID string) (pluginschema.Definition, bool)
}

// PluginFunc is the callable form of internal/activity.Plugin.Invoke,
// adapted so built-in plugins can be registered without a dependency
// from this package back onto internal/activity.
type PluginFunc func(ctx context.Context, pluginID string, parameters map[string]any, inputs map[string][]any, credentials map[string]string) (map[string][]any, error)

// CredentialStore resolves a routine's credential mappings the same
// way internal/activity.CredentialStore does.
type CredentialStore interface {
	Resolve(ctx context.Context, credentialID string) (map[string]string, error)
}

// ExecutePluginActivity is the Temporal activity function registered
// against a worker. It is package-level, not a method, so it can be
// passed directly to workflow.ExecuteActivity by reference; RunWorker
// registers the configured *Activities' method via worker.RegisterActivity
// under the same activity name, so that instance is what runs,
// following the teacher's ExecuteNodeActivity
// shape of "look up an instance by id, run it, time it, shape the
// result" while replacing its node-type switch with a plugin registry
// lookup.
var ExecutePluginActivity = (&Activities{}).ExecutePluginActivity

func (a *Activities) ExecutePluginActivity(ctx context.Context, input ActivityInput) (ActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("executing plugin activity", "nodeId", input.NodeID, "pluginId", input.PluginID)
	start := time.Now()

	if a.Telemetry != nil {
		var span trace.Span
		ctx, span = a.Telemetry.StartTaskSpan(ctx, activity.GetInfo(ctx).WorkflowExecution.ID, input.NodeID, input.PluginID)
		defer span.End()
		defer func() {
			if recErr := recover(); recErr != nil {
				span.SetStatus(codes.Error, "panic during plugin activity")
				panic(recErr)
			}
		}()
	}

	plugin, ok := a.Registry.Lookup(input.PluginID)
	if !ok {
		return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.NewPluginNotFoundError(input.PluginID))
	}

	def, hasDef := a.Registry.Definition(input.PluginID)
	if hasDef {
		for _, alias := range def.CredentialRequests {
			if _, ok := input.CredentialMappings[alias]; !ok {
				return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.NewMissingCredentialsError(alias))
			}
		}
	}

	creds, ee := a.resolveCredentials(ctx, input.CredentialMappings)
	if ee != nil {
		return ActivityOutput{}, a.fail(ctx, input.PluginID, start, ee)
	}

	if hasDef {
		if err := pluginschema.ValidateConfig(def.ConfigSchema, input.Parameters); err != nil {
			msg := fmt.Sprintf("node %q: parameters failed schema validation", input.NodeID)
			return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.Wrap(engineerr.KindInvalidInput, msg, err))
		}
		if err := pluginschema.ValidatePorts(def.InputSchema, input.Inputs); err != nil {
			msg := fmt.Sprintf("node %q: inputs failed schema validation", input.NodeID)
			return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.Wrap(engineerr.KindInvalidInput, msg, err))
		}
	}

	activity.RecordHeartbeat(ctx, "invoking plugin")
	outputs, err := plugin(ctx, input.PluginID, input.Parameters, input.Inputs, creds)
	activity.RecordHeartbeat(ctx, "plugin call returned")
	if err != nil {
		logger.Error("plugin invocation failed", "nodeId", input.NodeID, "error", err, "elapsed", time.Since(start))
		return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.AsEngineError(err))
	}

	if hasDef {
		if err := pluginschema.ValidatePorts(def.OutputSchema, outputs); err != nil {
			msg := fmt.Sprintf("node %q: outputs failed schema validation", input.NodeID)
			return ActivityOutput{}, a.fail(ctx, input.PluginID, start, engineerr.Wrap(engineerr.KindInvalidOutput, msg, err))
		}
	}

	if a.Metrics != nil {
		a.Metrics.RecordTaskExecution(input.PluginID, "success", time.Since(start))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	return ActivityOutput{Outputs: outputs}, nil
}

// fail records failure metrics/span status before wrapping ee for the
// Temporal boundary.
func (a *Activities) fail(ctx context.Context, pluginID string, start time.Time, ee *engineerr.EngineError) error {
	if a.Metrics != nil {
		a.Metrics.RecordTaskExecution(pluginID, "error", time.Since(start))
		a.Metrics.RecordTaskError(pluginID, string(ee.Kind))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(ee)
		span.SetStatus(codes.Error, ee.Message)
	}
	return asApplicationError(ee)
}

// asApplicationError carries an EngineError's Kind across the activity
// boundary as Temporal's ApplicationError.Type, so the workflow's
// ActivityOptions.RetryPolicy.NonRetryableErrorTypes (and the workflow's
// own classifyActivityError) can recover the original Kind from the
// opaque error Temporal hands back after replay.
func asApplicationError(ee *engineerr.EngineError) error {
	return temporal.NewApplicationError(ee.Message, string(ee.Kind))
}

func (a *Activities) resolveCredentials(ctx context.Context, mappings map[string]string) (map[string]string, *engineerr.EngineError) {
	if len(mappings) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(mappings))
	for alias, credentialID := range mappings {
		values, err := a.Credentials.Resolve(ctx, credentialID)
		if err != nil {
			return nil, engineerr.NewMissingCredentialsError(credentialID)
		}
		for k, v := range values {
			out[alias+"."+k] = v
		}
	}
	return out, nil
}

func flattenInputs(inputs map[string][]state.Item) map[string][]any {
	out := make(map[string][]any, len(inputs))
	for port, items := range inputs {
		values := make([]any, len(items))
		for i, item := range items {
			values[i] = item.Data
		}
		out[port] = values
	}
	return out
}

func toNodeOutput(nodeID string, out ActivityOutput) state.NodeOutput {
	result := make(state.NodeOutput, len(out.Outputs))
	for port, values := range out.Outputs {
		items := make([]state.Item, len(values))
		for i, v := range values {
			items[i] = state.Item{
				Data: v,
				Metadata: state.ItemMetadata{
					SourceNode: nodeID,
					SourcePort: port,
					Iteration:  i,
				},
			}
		}
		result[port] = items
	}
	return result
}
