// Package pluginschema implements the structural schema shape spec.md
// §6 and SPEC_FULL.md §3 require a PluginDefinition to carry: typed
// port/parameter declarations the Plugin Activity Port validates a
// plugin's inputs and outputs against (spec.md §4.6 steps 2 and 5).
//
// It is grounded on the teacher's PluginParameter/ParameterValidation
// pair (workflow/core/plugin_system.go): a flat, JSON-friendly
// declaration of name/type/required-ness per slot, checked structurally
// rather than against a struct-tag validator.
package pluginschema

import (
	"errors"
	"fmt"
	"strings"
)

// ParamType is the structural shape a Param declares. It deliberately
// stops at the JSON primitive families; a plugin that needs finer
// validation (ranges, patterns, enumerations, the way the teacher's
// ParameterValidation did) validates that itself inside Invoke.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
	// TypeAny accepts any non-nil value; used for ports/parameters whose
	// plugin is intentionally polymorphic (e.g. branch nodes that pass
	// an input item through unchanged regardless of its shape).
	TypeAny ParamType = "any"
)

// Param declares one named input port, output port, or config
// parameter a plugin exposes.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
}

// Schema is an ordered set of Param declarations for one of a plugin's
// three schema surfaces (input, output, config).
type Schema []Param

// Definition is the PluginDefinition of spec.md §6: the structural
// metadata the registry hands back for a plugin id alongside its
// callable implementation.
type Definition struct {
	ID                 string
	Name               string
	Version            string
	InputSchema        Schema
	OutputSchema       Schema
	ConfigSchema       Schema
	CredentialRequests []string
}

// Describer is implemented by plugins that declare a Definition. A
// plugin that does not implement it runs unvalidated: composition, not
// inheritance, is how a plugin opts into schema enforcement (spec.md
// §9 "no inheritance; composition only").
type Describer interface {
	Definition() Definition
}

// ValidatePorts checks a port-keyed set of items (gathered inputs, or a
// plugin's raw outputs) against schema. A declared Param absent or
// empty is only an error when Required; an undeclared port is ignored,
// since a plugin may legitimately emit extra diagnostic ports no
// upstream caller reads.
func ValidatePorts(schema Schema, ports map[string][]any) error {
	var problems []string
	for _, p := range schema {
		values := ports[p.Name]
		if len(values) == 0 {
			if p.Required {
				problems = append(problems, fmt.Sprintf("port %q is required but produced no items", p.Name))
			}
			continue
		}
		if p.Type == TypeAny {
			continue
		}
		for i, v := range values {
			if !matchesType(p.Type, v) {
				problems = append(problems, fmt.Sprintf("port %q item %d: expected %s, got %T", p.Name, i, p.Type, v))
			}
		}
	}
	return problemsToErr(problems)
}

// ValidateConfig checks a resolved parameter map against schema, the
// same way ValidatePorts checks ports, but against a single value per
// name rather than a list of items.
func ValidateConfig(schema Schema, config map[string]any) error {
	var problems []string
	for _, p := range schema {
		v, ok := config[p.Name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("parameter %q is required", p.Name))
			}
			continue
		}
		if p.Type == TypeAny {
			continue
		}
		if !matchesType(p.Type, v) {
			problems = append(problems, fmt.Sprintf("parameter %q: expected %s, got %T", p.Name, p.Type, v))
		}
	}
	return problemsToErr(problems)
}

func problemsToErr(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

func matchesType(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		default:
			return false
		}
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
