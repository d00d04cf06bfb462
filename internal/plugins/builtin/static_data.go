package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// StaticData emits its configured parameters as a single item on "out",
// ignoring whatever (if anything) arrives on its input ports. It is the
// routine equivalent of a literal: seed scenario 1 uses it to seed the
// chain with {data: 1}.
type StaticData struct{}

func (StaticData) Invoke(_ context.Context, req activity.Request) (activity.Response, error) {
	data := make(map[string]any, len(req.Parameters))
	for k, v := range req.Parameters {
		data[k] = v
	}
	return activity.Response{Outputs: map[string][]any{"out": {data}}}, nil
}

func (StaticData) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "static-data",
		Name:    "Static Data",
		Version: "1.0.0",
		OutputSchema: pluginschema.Schema{
			{Name: "out", Type: pluginschema.TypeObject},
		},
	}
}
