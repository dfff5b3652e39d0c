package relay

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Handler Contract
// -----------------------------------------------------------------------------
//
// A handler is the code a hook registration points at. Handlers are looked up
// by a stable string key in a hooks.HandlerTable that is filled once at start-up:
//
//	table := hooks.NewHandlerTable()
//	table.Register("myapp.audit_prompt", relay.HandlerFunc(
//	    func(ctx context.Context, p relay.HookPayload) (relay.HookResult, error) {
//	        if strings.Contains(p.DataString("prompt"), "DROP TABLE") {
//	            return relay.Deny("prompt looks like SQL injection"), nil
//	        }
//	        return relay.Allowed(), nil
//	    },
//	))
//
// # Error Handling
//
// Returning an error, panicking, or overrunning the hook's timeout never
// escapes the dispatch. The executor converts each into a HookResult with
// OK=false and an error code ([ErrCodeHandlerError], [ErrCodeHandlerPanic],
// [ErrCodeTimeout]).
//
// # Timeouts
//
// The ctx passed to Handle carries the hook's deadline. A handler that ignores
// it keeps running after the executor has moved on; its result is discarded.
// -----------------------------------------------------------------------------

// Handler processes one hook invocation.
type Handler interface {
	Handle(ctx context.Context, payload HookPayload) (HookResult, error)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, payload HookPayload) (HookResult, error)

// Handle calls f(ctx, payload).
func (f HandlerFunc) Handle(ctx context.Context, payload HookPayload) (HookResult, error) {
	if f == nil {
		return Allowed(), nil
	}
	return f(ctx, payload)
}

// -----------------------------------------------------------------------------
// Hook Registration
// -----------------------------------------------------------------------------

// HookType selects how a registration's Target is interpreted.
type HookType string

const (
	// HookTypeHandler resolves Target against the handler table.
	HookTypeHandler HookType = "handler"

	// HookTypeCommand runs Target as a shell command. The payload is written
	// to stdin as JSON and a HookResult is read back from stdout.
	HookTypeCommand HookType = "command"
)

// Valid reports whether t is a known hook type.
func (t HookType) Valid() bool {
	return t == HookTypeHandler || t == HookTypeCommand
}

// DefaultHookTimeout is used when neither the registration nor the
// configuration defaults specify a timeout.
const DefaultHookTimeout = 2 * time.Second

// HookAction is a single hook registration.
//
// ID is unique within a registry; registering an existing ID replaces the
// earlier registration. Hooks for the same event run in ascending Priority
// order, ties keeping configuration order.
//
// Effects is the only input to leader/worker role gating. A nil Effects means
// the hook never declared its side effects, which a worker caller treats as a
// hard error. An empty, non-nil Effects declares the hook side-effect free.
type HookAction struct {
	ID              string
	Event           HookEvent
	Type            HookType
	Target          string
	Priority        int
	Enabled         bool
	Timeout         time.Duration
	ContinueOnError bool

	// ToolNamePattern, when set, restricts the hook to payloads whose
	// data.tool_name matches this regular expression.
	ToolNamePattern string

	Effects Effects
}

// EffectiveTimeout returns Timeout, or DefaultHookTimeout when unset.
func (a HookAction) EffectiveTimeout() time.Duration {
	if a.Timeout <= 0 {
		return DefaultHookTimeout
	}
	return a.Timeout
}
