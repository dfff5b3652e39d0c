package relay

import (
	"fmt"
	"strings"
)

// HookEvent identifies a lifecycle moment that passes through the hook pipeline.
//
// # Mutable and Blockable Events
//
// Some events let hooks rewrite the payload before later hooks (and the caller)
// see it, and some let hooks veto the event entirely. Both sets are currently
// identical:
//
//	prompt_submit        mutable, blockable
//	model_request_start  mutable, blockable
//	pre_tool_use         mutable, blockable
//
// Hooks on every other event are observers: their mutations are ignored and
// their denials do not stop the dispatch.
type HookEvent string

const (
	// Session lifecycle
	EventSessionStart HookEvent = "session_start"
	EventSessionEnd   HookEvent = "session_end"

	// Prompt and model calls
	EventPromptSubmit      HookEvent = "prompt_submit"
	EventModelRequestStart HookEvent = "model_request_start"
	EventModelResponseDone HookEvent = "model_response_done"

	// Tool calls
	EventPreToolUse  HookEvent = "pre_tool_use"
	EventPostToolUse HookEvent = "post_tool_use"

	// Harness housekeeping
	EventCheckpointSave HookEvent = "checkpoint_save"
	EventHealthCheck    HookEvent = "health_check"
)

var allHookEvents = []HookEvent{
	EventSessionStart,
	EventSessionEnd,
	EventPromptSubmit,
	EventModelRequestStart,
	EventModelResponseDone,
	EventPreToolUse,
	EventPostToolUse,
	EventCheckpointSave,
	EventHealthCheck,
}

// mutableDataPrefixes lists, per mutable event, the top-level event-data keys a
// hook mutation may write under. Events missing from this map are not mutable.
var mutableDataPrefixes = map[HookEvent][]string{
	EventPromptSubmit:      {"prompt", "context", "attachments", "metadata"},
	EventModelRequestStart: {"messages", "system", "model", "params", "metadata"},
	EventPreToolUse:        {"tool_input", "metadata"},
}

var blockableEvents = map[HookEvent]bool{
	EventPromptSubmit:      true,
	EventModelRequestStart: true,
	EventPreToolUse:        true,
}

// AllHookEvents returns every known event in a stable order.
func AllHookEvents() []HookEvent {
	out := make([]HookEvent, len(allHookEvents))
	copy(out, allHookEvents)
	return out
}

// ParseHookEvent resolves an event name. Matching ignores case, underscores and
// dashes, so "PreToolUse", "pre-tool-use" and "pre_tool_use" are equivalent.
func ParseHookEvent(name string) (HookEvent, error) {
	want := normalizeEventName(name)
	if want == "" {
		return "", fmt.Errorf("empty hook event name")
	}
	for _, e := range allHookEvents {
		if normalizeEventName(string(e)) == want {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown hook event %q", name)
}

func normalizeEventName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

// Valid reports whether e is one of the known events.
func (e HookEvent) Valid() bool {
	for _, known := range allHookEvents {
		if e == known {
			return true
		}
	}
	return false
}

// IsMutable reports whether hooks may rewrite the payload of e.
func (e HookEvent) IsMutable() bool {
	_, ok := mutableDataPrefixes[e]
	return ok
}

// IsBlockable reports whether hooks may veto e.
func (e HookEvent) IsBlockable() bool {
	return blockableEvents[e]
}

// MutablePrefixes returns the event-data keys mutations may target for e.
func (e HookEvent) MutablePrefixes() []string {
	prefixes := mutableDataPrefixes[e]
	out := make([]string, len(prefixes))
	copy(out, prefixes)
	return out
}

func (e HookEvent) String() string {
	return string(e)
}
