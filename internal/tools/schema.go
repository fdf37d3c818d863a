package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

var primitiveTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
}

// validateSchema checks that a parameter schema is an object whose
// properties all have primitive types and whose required keys are
// declared.
func validateSchema(schema map[string]any) error {
	if typ, _ := schema["type"].(string); typ != "object" {
		return fmt.Errorf("schema type must be \"object\", got %v", schema["type"])
	}
	props, err := properties(schema)
	if err != nil {
		return err
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("property %s is not an object", name)
		}
		typ, _ := prop["type"].(string)
		if !primitiveTypes[typ] {
			return fmt.Errorf("property %s has unsupported type %v", name, prop["type"])
		}
	}
	req, err := required(schema)
	if err != nil {
		return err
	}
	for _, name := range req {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("required property %s is not declared", name)
		}
	}
	return nil
}

// validateArgs checks args against a schema accepted by validateSchema.
// Undeclared arguments are ignored.
func validateArgs(schema map[string]any, args map[string]any) error {
	props, _ := properties(schema)
	req, _ := required(schema)
	for _, name := range req {
		if v, ok := args[name]; !ok || v == nil {
			return fmt.Errorf("missing required argument %s", name)
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, ok := props[name]
		if !ok || args[name] == nil {
			continue
		}
		typ, _ := raw.(map[string]any)["type"].(string)
		if !matchesType(typ, args[name]) {
			return fmt.Errorf("argument %s must be %s, got %T", name, typ, args[name])
		}
	}
	return nil
}

func properties(schema map[string]any) (map[string]any, error) {
	raw, ok := schema["properties"]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("properties must be an object")
	}
	return props, nil
}

func required(schema map[string]any) ([]string, error) {
	switch req := schema["required"].(type) {
	case nil:
		return nil, nil
	case []string:
		return req, nil
	case []any:
		out := make([]string, len(req))
		for i, v := range req {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("required entry %v is not a string", v)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("required must be a list of names")
	}
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := number(v)
		return ok
	case "integer":
		f, ok := number(v)
		return ok && f == math.Trunc(f)
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
