package builtin

import (
	"context"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/engineerr"
	"github.com/citadel-agent/routines/internal/pluginschema"
)

// IfElse is the engine's sole branching mechanism (spec.md §4.1): it
// evaluates a numeric comparison per input item and routes the item,
// unchanged, to "true" or "false". A port an iteration never reaches
// stays empty, which the scheduler treats as "this branch does not
// fire" — there is no separate conditional edge type.
type IfElse struct{}

func (IfElse) Definition() pluginschema.Definition {
	return pluginschema.Definition{
		ID:      "if-else",
		Name:    "If/Else",
		Version: "1.0.0",
		ConfigSchema: pluginschema.Schema{
			{Name: "value", Type: pluginschema.TypeNumber, Required: true},
			{Name: "operator", Type: pluginschema.TypeString},
		},
		// dataField accepts either a {"data": n} object or a bare number,
		// so "in" is intentionally unconstrained (see Double.Definition).
		InputSchema: pluginschema.Schema{
			{Name: "in", Type: pluginschema.TypeAny},
		},
		// The item a matched branch emits is the untouched input item,
		// whatever shape the upstream node gave it.
		OutputSchema: pluginschema.Schema{
			{Name: "true", Type: pluginschema.TypeAny},
			{Name: "false", Type: pluginschema.TypeAny},
		},
	}
}

func (IfElse) Invoke(_ context.Context, req activity.Request) (activity.Response, error) {
	operator, _ := req.Parameters["operator"].(string)
	if operator == "" {
		operator = "gt"
	}
	threshold, err := asFloat(req.Parameters["value"])
	if err != nil {
		return activity.Response{}, err
	}

	var trueItems, falseItems []any
	for _, item := range inputItems(req.Inputs, "in") {
		n, err := dataField(item)
		if err != nil {
			return activity.Response{}, err
		}
		matched, err := compare(operator, n, threshold)
		if err != nil {
			return activity.Response{}, err
		}
		if matched {
			trueItems = append(trueItems, item)
		} else {
			falseItems = append(falseItems, item)
		}
	}

	return activity.Response{Outputs: map[string][]any{"true": trueItems, "false": falseItems}}, nil
}

func compare(operator string, lhs, rhs float64) (bool, error) {
	switch operator {
	case "gt":
		return lhs > rhs, nil
	case "gte":
		return lhs >= rhs, nil
	case "lt":
		return lhs < rhs, nil
	case "lte":
		return lhs <= rhs, nil
	case "eq":
		return lhs == rhs, nil
	case "neq":
		return lhs != rhs, nil
	default:
		return false, engineerr.NewInvalidInputError("unknown if-else operator: "+operator, nil)
	}
}
