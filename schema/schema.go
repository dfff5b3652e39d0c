// Package schema validates hook event data against JSON Schema.
//
// Each [relay.HookEvent] has a schema describing the fields callers must put
// in [relay.HookPayload.Data]. The executor validates every payload before
// running hooks, so handlers can rely on, say, data.tool_name being a
// non-empty string on pre_tool_use.
//
// # Quick Start
//
//	set := schema.Default()
//	if err := set.Validate(relay.EventPreToolUse, payload.Data); err != nil {
//	    var verr *schema.ValidationError
//	    if errors.As(err, &verr) {
//	        // reject the request
//	    }
//	}
//
// Schemas are open: fields they do not mention are allowed. See [Object],
// [Property] and the builder functions for writing your own.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema represents a JSON Schema definition.
// It provides both the raw map representation (for serialization)
// and a compiled validator (for runtime validation).
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// Raw returns the underlying map[string]any representation.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate validates the given data against the schema.
// Returns nil if valid, or an error describing the validation failure.
//
// Data is normalized through JSON first, so Go values such as int or
// []string validate the same way their decoded JSON would.
func (s *Schema) Validate(data map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return &ValidationError{Err: fmt.Errorf("data is not JSON-serializable: %w", err)}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Err: err}
	}
	if err := s.compiled.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError wraps a JSON Schema validation error with a cleaner message.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Compile compiles a raw schema map into a Schema with a compiled validator.
// Returns an error if the schema is invalid.
func Compile(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}

	schemaJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	schemaData, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{
		raw:      raw,
		compiled: compiled,
	}, nil
}

// MustCompile is like Compile but panics on error.
// Use this for schemas defined at init time.
func MustCompile(raw map[string]any) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// -----------------------------------------------------------------------------
// Schema Builders
// -----------------------------------------------------------------------------

// Object creates an object schema with the given properties.
// Pass property names as variadic arguments to mark them as required.
//
//	schema.Object(map[string]*schema.Property{
//	    "tool_name":  schema.String("Tool being called").MinLength(1),
//	    "tool_input": schema.Map("Tool arguments"),
//	}, "tool_name")
func Object(properties map[string]*Property, required ...string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, prop := range properties {
		props[name] = prop.build()
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Property represents a property in an object schema.
type Property struct {
	types       []string
	description string
	enum        []any
	minLength   *int
	items       map[string]any
}

func (p *Property) build() map[string]any {
	m := map[string]any{}

	switch len(p.types) {
	case 0:
	case 1:
		m["type"] = p.types[0]
	default:
		m["type"] = p.types
	}
	if p.description != "" {
		m["description"] = p.description
	}
	if len(p.enum) > 0 {
		m["enum"] = p.enum
	}
	if p.minLength != nil {
		m["minLength"] = *p.minLength
	}
	if p.items != nil {
		m["items"] = p.items
	}

	return m
}

// String creates a string property.
func String(description string) *Property {
	return &Property{types: []string{"string"}, description: description}
}

// Integer creates an integer property.
func Integer(description string) *Property {
	return &Property{types: []string{"integer"}, description: description}
}

// Boolean creates a boolean property.
func Boolean(description string) *Property {
	return &Property{types: []string{"boolean"}, description: description}
}

// Map creates a property holding an arbitrary JSON object.
func Map(description string) *Property {
	return &Property{types: []string{"object"}, description: description}
}

// Array creates an array property with the given item schema (nil for any).
func Array(description string, items map[string]any) *Property {
	return &Property{types: []string{"array"}, description: description, items: items}
}

// Any creates a property accepting any JSON value.
func Any(description string) *Property {
	return &Property{description: description}
}

// OneOfTypes creates a property accepting any of the given JSON types.
//
//	schema.OneOfTypes("Tool output", "string", "object", "null")
func OneOfTypes(description string, types ...string) *Property {
	return &Property{types: types, description: description}
}

// Enum sets allowed values for the property.
func (p *Property) Enum(values ...any) *Property {
	p.enum = values
	return p
}

// MinLength sets the minimum length for string properties.
func (p *Property) MinLength(min int) *Property {
	p.minLength = &min
	return p
}
