package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// SplitInBatches is the engine's loop primitive (spec.md §9, "loops
// without cyclic graphs"): it takes a collection on "in" and re-emits
// it, one element per batch, on "body" — the scheduler instantiates
// everything downstream of "body" once per item under a fresh
// LoopContext frame. "done" fires exactly once, after every body item
// has been produced, carrying a single summary marker.
//
// "batchSize" (default 1) groups that many elements into a single body
// item at a time.
type SplitInBatches struct{}

func (SplitInBatches) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "split-in-batches",
		Name:    "Split in Batches",
		Version: "1.0.0",
		ConfigSchema: pluginschema.Schema{
			{Name: "batchSize", Type: pluginschema.TypeNumber},
		},
		// "in" accepts either a single collection item or one item per
		// element (collectionElements normalizes both), so its declared
		// shape is intentionally unconstrained.
		InputSchema: pluginschema.Schema{
			{Name: "in", Type: pluginschema.TypeAny},
		},
		OutputSchema: pluginschema.Schema{
			{Name: "body", Type: pluginschema.TypeAny},
			{Name: "done", Type: pluginschema.TypeAny},
		},
	}
}

func (SplitInBatches) Invoke(_ context.Context, req activity.Request) (activity.Response, error) {
	batchSize := 1
	if v, ok := req.Parameters["batchSize"]; ok {
		if n, err := asFloat(v); err == nil && n >= 1 {
			batchSize = int(n)
		}
	}

	elements := collectionElements(req.Inputs)

	var body []any
	for i := 0; i < len(elements); i += batchSize {
		end := i + batchSize
		if end > len(elements) {
			end = len(elements)
		}
		if batchSize == 1 {
			body = append(body, elements[i])
			continue
		}
		body = append(body, append([]any(nil), elements[i:end]...))
	}

	return activity.Response{Outputs: map[string][]any{
		"body": body,
		"done": {"finished"},
	}}, nil
}

// collectionElements flattens the node's input into the sequence of
// elements to iterate over. A single item that is itself a slice is
// the collection; otherwise every gathered input item is an element.
func collectionElements(inputs map[string][]any) []any {
	items := inputItems(inputs, "in")
	if len(items) == 1 {
		if coll, ok := items[0].([]any); ok {
			return coll
		}
	}
	return items
}
