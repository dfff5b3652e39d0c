package relay

import (
	"strings"
	"time"
)

// Error codes reported in HookResult.ErrorCode.
const (
	ErrCodeRoleViolation  = "role_violation"
	ErrCodeTimeout        = "timeout"
	ErrCodeHandlerError   = "handler_error"
	ErrCodeHandlerPanic   = "handler_panic"
	ErrCodeNotResolved    = "not_resolved"
	ErrCodeCommandFailed  = "command_failed"
	ErrCodeInvalidOutput  = "invalid_output"
	ErrCodeUnknownEvent   = "unknown_event"
	ErrCodeInvalidPayload = "invalid_payload"
)

// UIEvent is an opaque event a hook asks the UI layer to render.
type UIEvent map[string]any

// HookResult is what a single hook returns, and the shape of a dispatch's
// aggregate.
type HookResult struct {
	OK          bool   `json:"ok"`
	Allow       bool   `json:"allow"`
	BlockReason string `json:"block_reason,omitempty"`

	// Mutations maps dotted event-data paths to new values. They are applied
	// only on mutable events; see [ApplyMutations].
	Mutations map[string]any `json:"mutations,omitempty"`

	Notes         []string  `json:"notes,omitempty"`
	UIEvents      []UIEvent `json:"ui_events,omitempty"`
	InjectContext string    `json:"inject_context,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Allowed returns a successful, non-blocking result.
func Allowed() HookResult {
	return HookResult{OK: true, Allow: true}
}

// Deny returns a successful result that vetoes the event.
func Deny(reason string) HookResult {
	return HookResult{OK: true, Allow: false, BlockReason: reason}
}

// Failed returns an error result. Failures do not block the event.
func Failed(code, message string) HookResult {
	return HookResult{OK: false, Allow: true, ErrorCode: code, ErrorMessage: message}
}

// WithNote appends a note and returns r.
func (r HookResult) WithNote(note string) HookResult {
	r.Notes = append(r.Notes, note)
	return r
}

// WithMutation records a mutation and returns r.
func (r HookResult) WithMutation(path string, value any) HookResult {
	if r.Mutations == nil {
		r.Mutations = make(map[string]any)
	}
	r.Mutations[path] = value
	return r
}

// WithContext sets the context string to inject and returns r.
func (r HookResult) WithContext(text string) HookResult {
	r.InjectContext = text
	return r
}

// merge folds one hook's result into the aggregate. Allow and block handling
// are left to the executor since they depend on the event.
func (r *HookResult) merge(other HookResult) {
	r.Notes = append(r.Notes, other.Notes...)
	r.UIEvents = append(r.UIEvents, other.UIEvents...)
	if text := strings.TrimSpace(other.InjectContext); text != "" {
		if r.InjectContext == "" {
			r.InjectContext = other.InjectContext
		} else {
			r.InjectContext = r.InjectContext + "\n\n" + other.InjectContext
		}
	}
	if !other.OK {
		r.OK = false
		if r.ErrorCode == "" && r.ErrorMessage == "" {
			r.ErrorCode = other.ErrorCode
			r.ErrorMessage = other.ErrorMessage
		}
	}
}

// DispatchResult is the aggregate outcome of one dispatch.
type DispatchResult struct {
	HookResult

	Event HookEvent `json:"event"`
	RunID string    `json:"run_id,omitempty"`

	// Executed lists the ids of hooks that ran, in execution order.
	Executed []string `json:"executed"`

	// Skipped lists hooks withheld by the role gate.
	Skipped []string `json:"skipped,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// NewDispatchResult returns an empty, successful aggregate for event.
func NewDispatchResult(event HookEvent, runID string) DispatchResult {
	return DispatchResult{
		HookResult: Allowed(),
		Event:      event,
		RunID:      runID,
		Executed:   []string{},
	}
}

// Merge folds a hook result into the aggregate.
func (d *DispatchResult) Merge(r HookResult) {
	d.HookResult.merge(r)
}

// Abort turns d into a hard failure with the given code. The triggering
// action must not proceed, so Allow is cleared as well.
func (d *DispatchResult) Abort(code, message string) {
	d.OK = false
	d.Allow = false
	d.ErrorCode = code
	d.ErrorMessage = message
}

// Blocked reports whether a hook vetoed the event.
func (d DispatchResult) Blocked() bool {
	return !d.Allow
}
