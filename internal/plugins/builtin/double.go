package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// Double multiplies each input item's numeric "data" field by two,
// emitting one item per input on "out".
type Double struct{}

func (Double) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "double",
		Name:    "Double",
		Version: "1.0.0",
		// dataField accepts either a {"data": n} object (the shape
		// static-data/double/add produce) or a bare number (the shape
		// if-else forwards an unmatched branch's item as), so "in" is
		// intentionally unconstrained.
		InputSchema: pluginschema.Schema{
			{Name: "in", Type: pluginschema.TypeAny},
		},
		OutputSchema: pluginschema.Schema{
			{Name: "out", Type: pluginschema.TypeObject},
		},
	}
}

func (Double) Invoke(_ context.Context, req activity.Request) (activity.Response, error) {
	items := inputItems(req.Inputs, "in")
	out := make([]any, len(items))
	for i, item := range items {
		n, err := dataField(item)
		if err != nil {
			return activity.Response{}, err
		}
		out[i] = map[string]any{"data": n * 2}
	}
	return activity.Response{Outputs: map[string][]any{"out": out}}, nil
}
