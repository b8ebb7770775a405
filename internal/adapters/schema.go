// ABOUTME: Minimal JSON Schema for tool inputs, serialized as-is into tool listings
// ABOUTME: Validate checks required fields, types, enums, and bounds, and fills declared defaults

package adapters

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Schema is the input schema of a tool. Only object schemas are supported.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Object builds an object schema.
func Object(props map[string]Property, required ...string) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

// Str declares a string parameter.
func Str(desc string) Property { return Property{Type: "string", Description: desc} }

// Int declares an integer parameter with inclusive bounds.
func Int(desc string, min, max float64) Property {
	return Property{Type: "integer", Description: desc, Minimum: &min, Maximum: &max}
}

// Bool declares a boolean parameter.
func Bool(desc string) Property { return Property{Type: "boolean", Description: desc} }

// StrList declares an array of strings.
func StrList(desc string) Property {
	return Property{Type: "array", Description: desc, Items: &Property{Type: "string"}}
}

// WithDefault returns p with a default value.
func (p Property) WithDefault(v any) Property {
	p.Default = v
	return p
}

// OneOf returns p restricted to the given values.
func (p Property) OneOf(values ...string) Property {
	p.Enum = values
	return p
}

// Validate checks args against the schema and returns a copy with defaults applied.
// Unknown keys are passed through untouched. Null values count as absent.
func (s Schema) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(s.Properties))
	for k, v := range args {
		if v != nil {
			out[k] = v
		}
	}

	var errs []FieldError
	for _, name := range s.Required {
		if _, ok := out[name]; !ok {
			errs = append(errs, FieldError{Field: name, Message: "field required"})
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := s.Properties[name]
		v, ok := out[name]
		if !ok {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		if msg := prop.check(v); msg != "" {
			errs = append(errs, FieldError{Field: name, Message: msg})
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return out, nil
}

// check returns a message describing why v does not fit p, or "".
func (p Property) check(v any) string {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return "must be one of: " + strings.Join(p.Enum, ", ")
		}
	case "integer", "number":
		f, ok := v.(float64)
		if !ok {
			return "must be a number"
		}
		if p.Type == "integer" && f != math.Trunc(f) {
			return "must be an integer"
		}
		if p.Minimum != nil && f < *p.Minimum {
			return fmt.Sprintf("must be >= %g", *p.Minimum)
		}
		if p.Maximum != nil && f > *p.Maximum {
			return fmt.Sprintf("must be <= %g", *p.Maximum)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			return "must be an array"
		}
		if p.Items != nil {
			for i, item := range items {
				if msg := p.Items.check(item); msg != "" {
					return fmt.Sprintf("item %d %s", i, msg)
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return "must be an object"
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
