package schema

import (
	"fmt"
	"sync"

	"github.com/rickchristie/relay"
)

// Set maps events to their data schemas. Events without a schema accept any
// data.
type Set struct {
	schemas map[relay.HookEvent]*Schema
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{schemas: make(map[relay.HookEvent]*Schema)}
}

// With compiles raw and binds it to event, replacing any earlier schema.
func (s *Set) With(event relay.HookEvent, raw map[string]any) (*Set, error) {
	compiled, err := Compile(raw)
	if err != nil {
		return s, fmt.Errorf("schema for %s: %w", event, err)
	}
	s.schemas[event] = compiled
	return s, nil
}

// ForEvent returns the schema bound to event, nil if none.
func (s *Set) ForEvent(event relay.HookEvent) *Schema {
	if s == nil {
		return nil
	}
	return s.schemas[event]
}

// Validate checks data against event's schema.
func (s *Set) Validate(event relay.HookEvent, data map[string]any) error {
	return s.ForEvent(event).Validate(data)
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
)

// Default returns the built-in event data schemas. The set is compiled once
// and shared; do not modify it.
func Default() *Set {
	defaultOnce.Do(func() {
		set := NewSet()
		for event, raw := range eventDataSchemas() {
			set.schemas[event] = MustCompile(raw)
		}
		defaultSet = set
	})
	return defaultSet
}

func metadata() *Property {
	return Map("Free-form caller metadata")
}

func eventDataSchemas() map[relay.HookEvent]map[string]any {
	return map[relay.HookEvent]map[string]any{
		relay.EventSessionStart: Object(map[string]*Property{
			"source":   String("What started the session").Enum("startup", "resume", "clear", "compact"),
			"metadata": metadata(),
		}),
		relay.EventSessionEnd: Object(map[string]*Property{
			"reason":   String("Why the session ended"),
			"summary":  String("Optional end-of-session summary"),
			"metadata": metadata(),
		}),
		relay.EventPromptSubmit: Object(map[string]*Property{
			"prompt":      String("The user or leader prompt"),
			"context":     OneOfTypes("Extra context attached to the prompt", "string", "object", "array"),
			"attachments": Array("Attachment descriptors", nil),
			"metadata":    metadata(),
		}, "prompt"),
		relay.EventModelRequestStart: Object(map[string]*Property{
			"messages": Array("Messages about to be sent", map[string]any{"type": "object"}),
			"system":   String("System prompt"),
			"model":    String("Model identifier"),
			"params":   Map("Sampling parameters"),
			"metadata": metadata(),
		}, "messages"),
		relay.EventModelResponseDone: Object(map[string]*Property{
			"model":       String("Model identifier"),
			"content":     String("Response text"),
			"stop_reason": String("Why generation stopped"),
			"usage":       Map("Token usage"),
			"metadata":    metadata(),
		}),
		relay.EventPreToolUse: Object(map[string]*Property{
			"tool_name":  String("Tool being called").MinLength(1),
			"tool_input": Map("Tool arguments"),
			"metadata":   metadata(),
		}, "tool_name"),
		relay.EventPostToolUse: Object(map[string]*Property{
			"tool_name":   String("Tool that was called").MinLength(1),
			"tool_input":  Map("Tool arguments"),
			"tool_output": Any("Tool result"),
			"error":       OneOfTypes("Tool error, if any", "string", "null"),
			"duration_ms": Integer("Tool runtime"),
			"metadata":    metadata(),
		}, "tool_name"),
		relay.EventCheckpointSave: Object(map[string]*Property{
			"checkpoint_id": String("Checkpoint identifier"),
			"label":         String("Human-readable label"),
			"metadata":      metadata(),
		}),
		relay.EventHealthCheck: Object(map[string]*Property{
			"probe":    String("Caller-chosen probe name"),
			"metadata": metadata(),
		}),
	}
}
