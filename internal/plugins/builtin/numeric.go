package builtin

import (
	"fmt"

	"github.com/citadel-agent/routines/internal/engineerr"
)

// dataField extracts the numeric "data" field a chained arithmetic
// plugin (double, add) operates on. An item is either a bare number or
// a map carrying a "data" key, matching the shape StaticData produces.
func dataField(item any) (float64, error) {
	switch v := item.(type) {
	case map[string]any:
		return asFloat(v["data"])
	default:
		return asFloat(item)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, engineerr.NewInvalidInputError("expected a numeric \"data\" field", nil)
	default:
		return 0, engineerr.NewInvalidInputError(fmt.Sprintf("expected a number, got %T", v), nil)
	}
}

func inputItems(inputs map[string][]any, port string) []any {
	if items, ok := inputs[port]; ok {
		return items
	}
	// Built-ins are tolerant of whatever single port a routine author
	// wired the edge to, so a plugin with one logical input accepts it
	// under any port name rather than requiring "in" specifically.
	for _, items := range inputs {
		return items
	}
	return nil
}
