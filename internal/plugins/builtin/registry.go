// Package builtin holds the small set of reference plugins the engine
// ships with: enough to drive every seed scenario in spec.md §8
// end-to-end without an out-of-process host. Each plugin implements
// activity.Plugin directly and is registered into the same
// activity.StaticRegistry a hosted go-plugin client would share with.
package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/durable"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// NewRegistry builds an activity.StaticRegistry pre-populated with the
// built-in plugin set: static-data, double, add, if-else,
// split-in-batches and http-request. Callers can Register further
// plugins (built-in or go-plugin-hosted) into the same registry.
func NewRegistry() *activity.StaticRegistry {
	r := activity.NewStaticRegistry()
	r.Register("static-data", StaticData{})
	r.Register("double", Double{})
	r.Register("add", Add{})
	r.Register("if-else", IfElse{})
	r.Register("split-in-batches", SplitInBatches{})
	r.Register("http-request", HTTPRequest{})
	return r
}

// DurableAdapter exposes an activity.Registry to the Temporal worker,
// whose Activities.Registry wants a flattened durable.PluginFunc rather
// than activity.Plugin's Request/Response pair.
type DurableAdapter struct {
	inner activity.Registry
}

// NewDurableAdapter wraps r for use as a durable.Registry.
func NewDurableAdapter(r activity.Registry) DurableAdapter {
	return DurableAdapter{inner: r}
}

// Lookup satisfies durable.Registry.
func (d DurableAdapter) Lookup(pluginID string) (durable.PluginFunc, bool) {
	p, ok := d.inner.Lookup(pluginID)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, pluginID string, parameters map[string]any, inputs map[string][]any, credentials map[string]string) (map[string][]any, error) {
		resp, err := p.Invoke(ctx, activity.Request{
			PluginID:    pluginID,
			Parameters:  parameters,
			Inputs:      inputs,
			Credentials: credentials,
		})
		if err != nil {
			return nil, err
		}
		return resp.Outputs, nil
	}, true
}

// Definition satisfies durable.Registry.
func (d DurableAdapter) Definition(pluginID string) (pluginschema.Definition, bool) {
	p, ok := d.inner.Lookup(pluginID)
	if !ok {
		return pluginschema.Definition{}, false
	}
	describer, ok := p.(pluginschema.Describer)
	if !ok {
		return pluginschema.Definition{}, false
	}
	return describer.Definition(), true
}
