// Package expr implements the Expression Resolver: a recursive walker
// that replaces {{ ... }} templates inside arbitrary node parameter
// values against an ExpressionContext (spec.md §4.2).
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/citadel-agent/routines/internal/execctx"
	"github.com/citadel-agent/routines/internal/state"
)

// NodeOutputs is the subset of ExecutionState the resolver needs:
// looking up the most recent output on a port for a node, searching
// outward through the enclosing loop contexts when the exact context
// has no result (an outer-scope node is visible to nested iterations).
type NodeOutputs interface {
	Get(nodeID string, ctx execctx.LoopContext) (state.NodeResult, bool)
}

// ExpressionContext is the {nodes, vars, trigger, execution} context a
// task's parameters are resolved against.
type ExpressionContext struct {
	Vars      map[string]any
	Nodes     NodeOutputs
	LoopCtx   execctx.LoopContext
	Trigger   map[string]any
	Execution map[string]any
}

// exprRe matches a single {{ ... }} template, tolerating interior
// whitespace including tabs/newlines, per spec.md §4.2.
var exprRe = regexp.MustCompile(`(?s)\{\{\s*(.+?)\s*\}\}`)

// wholeRe matches when the entire string is exactly one expression,
// triggering type-preserving resolution instead of string
// concatenation. Its lazy group can also span "{{ a }}-{{ b }}", so
// resolveString rejects a match whose group still contains "{{".
var wholeRe = regexp.MustCompile(`(?s)^\{\{\s*(.+?)\s*\}\}$`)

// undefined is the sentinel returned for a reference that could not be
// resolved. It is distinct from a resolved nil/null value.
type undefined struct{}

// Resolve walks value recursively, replacing templates. Arrays and
// objects are walked and a new value is produced; the input is never
// mutated. Values with no templates are returned unchanged (idempotent
// per spec.md §8 invariant 5).
func Resolve(value any, ctx ExpressionContext) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, ctx ExpressionContext) (any, error) {
	if m := wholeRe.FindStringSubmatch(s); m != nil && !strings.Contains(m[1], "{{") {
		val, err := evaluate(m[1], ctx)
		if err != nil {
			return nil, err
		}
		if _, isUndef := val.(undefined); isUndef {
			return nil, nil
		}
		return val, nil
	}

	if !exprRe.MatchString(s) {
		return s, nil
	}

	var evalErr error
	result := exprRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := exprRe.FindStringSubmatch(match)
		val, err := evaluate(sub[1], ctx)
		if err != nil {
			evalErr = err
			return match
		}
		if _, isUndef := val.(undefined); isUndef {
			return ""
		}
		return coerceToString(val)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

func coerceToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// evaluate resolves a dotted-path expression against the context,
// returning undefined{} if any segment of the lookup fails.
func evaluate(expr string, ctx ExpressionContext) (any, error) {
	expr = strings.TrimSpace(expr)
	root, rest, _ := strings.Cut(expr, ".")

	switch root {
	case "vars":
		return lookupPath(ctx.Vars, rest), nil
	case "trigger":
		return lookupPath(ctx.Trigger, rest), nil
	case "execution":
		return lookupPath(ctx.Execution, rest), nil
	case "nodes":
		return evaluateNodeRef(rest, ctx)
	default:
		return nil, fmt.Errorf("expr: unknown root %q in expression %q", root, expr)
	}
}

// evaluateNodeRef resolves "<id>.<port>.<path...>" against the node
// output lookup, walking outward through enclosing loop contexts if
// the node has no result under the exact current context.
func evaluateNodeRef(rest string, ctx ExpressionContext) (any, error) {
	nodeID, remainder, ok := strings.Cut(rest, ".")
	if !ok {
		return undefined{}, nil
	}
	port, path, _ := strings.Cut(remainder, ".")

	if ctx.Nodes == nil {
		return undefined{}, nil
	}

	lookupCtx := ctx.LoopCtx
	for {
		if result, ok := ctx.Nodes.Get(nodeID, lookupCtx); ok && result.Outputs != nil {
			items := result.Outputs[port]
			if len(items) > 0 {
				last := items[len(items)-1]
				return lookupPath(last.Data, path), nil
			}
		}
		if lookupCtx.Depth() == 0 {
			break
		}
		lookupCtx = lookupCtx.Pop()
	}
	return undefined{}, nil
}

// lookupPath drills into value via a dot/bracket path. An empty path
// returns value itself. Missing segments yield undefined{}.
func lookupPath(value any, path string) any {
	path = normalizeBrackets(path)
	if path == "" {
		if value == nil {
			return undefined{}
		}
		return value
	}

	b, err := json.Marshal(value)
	if err != nil {
		return undefined{}
	}
	result := gjson.GetBytes(b, path)
	if !result.Exists() {
		return undefined{}
	}
	return result.Value()
}

var bracketRe = regexp.MustCompile(`\[(\d+)\]`)

// normalizeBrackets rewrites "a[0].b" into gjson's dotted form "a.0.b".
func normalizeBrackets(path string) string {
	return bracketRe.ReplaceAllString(path, ".$1")
}
