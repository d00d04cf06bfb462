// Package activity implements the Plugin Activity Port of spec.md
// §4.6: registry lookup, parameter/credential resolution, the
// out-of-process plugin call, and output shaping back into NodeOutput
// items the scheduler and runner understand.
package activity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/expr"
	"github.com/citadel-agent/routines/internal/graph"
	"github.com/citadel-agent/routines/internal/pluginschema"
	"github.com/citadel-agent/routines/internal/state"
)

// Plugin is the contract every routine activity implements, whether it
// is a built-in (in-process) plugin or a go-plugin RPC client stub
// (see plugin_rpc.go).
type Plugin interface {
	// Invoke runs the plugin against already-resolved parameters and
	// gathered inputs, and returns its outputs keyed by port.
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Request is the wire-shaped call a Plugin receives. Input items are
// flattened to their raw Data — a hosted plugin never needs to know
// about LoopContext or provenance metadata.
type Request struct {
	NodeID      string
	PluginID    string
	Parameters  map[string]any
	Inputs      map[string][]any
	Credentials map[string]string
}

// Response is the raw, port-keyed output a Plugin produces.
type Response struct {
	Outputs map[string][]any
}

// Registry resolves a plugin id to its Plugin implementation, per
// spec.md §4.6's "missing registration yields plugin_not_found".
type Registry interface {
	Lookup(pluginID string) (Plugin, bool)
}

// CredentialStore resolves a routine's CredentialMappings (alias ->
// credential id) into concrete values a plugin can use, per spec.md
// §4.6's "missing credential yields missing_credentials".
type CredentialStore interface {
	Resolve(ctx context.Context, credentialID string) (map[string]string, error)
}

// Port is the Plugin Activity Port.
type Port struct {
	registry    Registry
	credentials CredentialStore
	log         zerolog.Logger
}

func NewPort(registry Registry, credentials CredentialStore, log zerolog.Logger) *Port {
	return &Port{registry: registry, credentials: credentials, log: log}
}

// Invoke runs one node's activity: resolve its parameters against
// exprCtx, resolve its credentials, flatten its gathered inputs, call
// the plugin, and shape the result back into a state.NodeOutput.
func (p *Port) Invoke(ctx context.Context, node *graph.Node, inputs map[string][]state.Item, loopCtx execctx.LoopContext, exprCtx expr.ExpressionContext) (state.NodeOutput, error) {
	resolvedParams, err := p.resolveParameters(node, exprCtx)
	if err != nil {
		return nil, err
	}
	return p.InvokeResolved(ctx, node, resolvedParams, inputs)
}

// InvokeResolved runs the plugin call with parameters the caller has
// already resolved, skipping the Expression Resolver step. The Durable
// Driver uses this directly: its workflow code resolves parameters
// deterministically before handing off to the (non-deterministic)
// activity boundary.
func (p *Port) InvokeResolved(ctx context.Context, node *graph.Node, resolvedParams map[string]any, inputs map[string][]state.Item) (state.NodeOutput, error) {
	plugin, ok := p.registry.Lookup(node.PluginID)
	if !ok {
		return nil, engineerr.NewPluginNotFoundError(node.PluginID)
	}

	def, hasDef := definitionOf(plugin)
	if hasDef {
		if err := checkCredentialRequests(def, node); err != nil {
			return nil, err
		}
	}

	flatInputs := flattenInputs(inputs)
	if hasDef {
		if err := pluginschema.ValidateConfig(def.ConfigSchema, resolvedParams); err != nil {
			return nil, engineerr.NewInvalidInputError(fmt.Sprintf("node %q: parameters failed schema validation", node.ID), err)
		}
		if err := pluginschema.ValidatePorts(def.InputSchema, flatInputs); err != nil {
			return nil, engineerr.NewInvalidInputError(fmt.Sprintf("node %q: inputs failed schema validation", node.ID), err)
		}
	}

	creds, err := p.resolveCredentials(ctx, node)
	if err != nil {
		return nil, err
	}

	req := Request{
		NodeID:      node.ID,
		PluginID:    node.PluginID,
		Parameters:  resolvedParams,
		Inputs:      flatInputs,
		Credentials: creds,
	}

	p.log.Debug().Str("node", node.ID).Str("plugin", node.PluginID).Msg("invoking activity")

	resp, err := plugin.Invoke(ctx, req)
	if err != nil {
		return nil, engineerr.AsEngineError(err)
	}

	if hasDef {
		if err := pluginschema.ValidatePorts(def.OutputSchema, resp.Outputs); err != nil {
			return nil, engineerr.NewInvalidOutputError(fmt.Sprintf("node %q: outputs failed schema validation", node.ID), err)
		}
	}

	return shapeOutputs(node.ID, resp), nil
}

// definitionOf returns the plugin's declared Definition, if it
// implements pluginschema.Describer.
func definitionOf(plugin Plugin) (pluginschema.Definition, bool) {
	describer, ok := plugin.(pluginschema.Describer)
	if !ok {
		return pluginschema.Definition{}, false
	}
	return describer.Definition(), true
}

// checkCredentialRequests verifies that every credential alias the
// plugin declares as required in its Definition is present in the
// node's CredentialMappings, per spec.md §4.6 step 3.
func checkCredentialRequests(def pluginschema.Definition, node *graph.Node) error {
	for _, alias := range def.CredentialRequests {
		if _, ok := node.CredentialMappings[alias]; !ok {
			return engineerr.NewMissingCredentialsError(alias)
		}
	}
	return nil
}

func (p *Port) resolveParameters(node *graph.Node, exprCtx expr.ExpressionContext) (map[string]any, error) {
	resolved, err := expr.Resolve(node.Parameters, exprCtx)
	if err != nil {
		return nil, engineerr.NewInvalidInputError(fmt.Sprintf("node %q parameter resolution failed", node.ID), err)
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, engineerr.NewInvalidInputError(fmt.Sprintf("node %q parameters resolved to a non-object value", node.ID), nil)
	}
	return out, nil
}

func (p *Port) resolveCredentials(ctx context.Context, node *graph.Node) (map[string]string, error) {
	if len(node.CredentialMappings) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(node.CredentialMappings))
	for alias, credentialID := range node.CredentialMappings {
		values, err := p.credentials.Resolve(ctx, credentialID)
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

func shapeOutputs(nodeID string, resp Response) state.NodeOutput {
	out := make(state.NodeOutput, len(resp.Outputs))
	for port, values := range resp.Outputs {
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
		out[port] = items
	}
	return out
}
