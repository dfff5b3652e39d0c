package relay

import (
	"time"
)

// SessionInfo identifies the chat session a payload belongs to.
type SessionInfo struct {
	SessionID   string `json:"session_id,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	Backend     string `json:"backend,omitempty"`
	ProjectRoot string `json:"project_root,omitempty"`
}

// HarnessInfo locates the harness' on-disk state.
type HarnessInfo struct {
	Dir      string `json:"dir,omitempty"`
	TodoPath string `json:"todo_path,omitempty"`
}

// UIInfo identifies the UI connection and stream that triggered the event.
type UIInfo struct {
	ConnectionID string `json:"connection_id,omitempty"`
	StreamID     string `json:"stream_id,omitempty"`
}

// HookPayload is the envelope passed to every hook of a dispatch.
//
// Payloads travel by value. The executor hands each hook its own deep copy of
// Data, so neither a hook nor a mutation can reach the caller's original map.
type HookPayload struct {
	Event     HookEvent `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`

	AgentRole  Role   `json:"agent_role"`
	AgentRunID string `json:"agent_run_id,omitempty"`

	Session SessionInfo `json:"session"`
	Harness HarnessInfo `json:"harness"`
	UI      UIInfo      `json:"ui"`

	// Data carries the event-specific fields, e.g. "prompt" for prompt_submit
	// or "tool_name"/"tool_input" for tool events.
	Data map[string]any `json:"data"`
}

// NewPayload builds a payload for event with the given role and data.
func NewPayload(event HookEvent, role Role, data map[string]any) HookPayload {
	if data == nil {
		data = make(map[string]any)
	}
	return HookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		AgentRole: role,
		Data:      data,
	}
}

// Clone returns a copy of p whose Data shares nothing with p.
func (p HookPayload) Clone() HookPayload {
	out := p
	out.Data = cloneMap(p.Data)
	return out
}

// DataString returns data[key] when it is a string.
func (p HookPayload) DataString(key string) string {
	if p.Data == nil {
		return ""
	}
	s, _ := p.Data[key].(string)
	return s
}

// DataMap returns data[key] when it is an object.
func (p HookPayload) DataMap(key string) map[string]any {
	if p.Data == nil {
		return nil
	}
	m, _ := p.Data[key].(map[string]any)
	return m
}

// ToolName returns data.tool_name, empty for non-tool events.
func (p HookPayload) ToolName() string {
	return p.DataString("tool_name")
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}
