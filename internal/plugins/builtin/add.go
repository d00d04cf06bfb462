package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// Add increments each input item's numeric "data" field by the
// configured "delta" parameter, emitting one item per input on "out".
type Add struct{}

func (Add) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "add",
		Name:    "Add",
		Version: "1.0.0",
		ConfigSchema: pluginschema.Schema{
			{Name: "delta", Type: pluginschema.TypeNumber, Required: true},
		},
		// dataField accepts either a {"data": n} object or a bare number
		// forwarded unmatched through if-else, so "in" is intentionally
		// unconstrained (see Double.Definition).
		InputSchema: pluginschema.Schema{
			{Name: "in", Type: pluginschema.TypeAny},
		},
		OutputSchema: pluginschema.Schema{
			{Name: "out", Type: pluginschema.TypeObject},
		},
	}
}

func (Add) Invoke(_ context.Context, req activity.Request) (activity.Response, error) {
	delta, err := asFloat(req.Parameters["delta"])
	if err != nil {
		return activity.Response{}, err
	}

	items := inputItems(req.Inputs, "in")
	out := make([]any, len(items))
	for i, item := range items {
		n, err := dataField(item)
		if err != nil {
			return activity.Response{}, err
		}
		out[i] = map[string]any{"data": n + delta}
	}
	return activity.Response{Outputs: map[string][]any{"out": out}}, nil
}
