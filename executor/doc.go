// Package executor runs hook dispatches.
//
// An [Executor] takes one event occurrence and its payload, asks a
// [HookSource] (normally a *hooks.Registry) for the hooks registered on the
// event, and runs them one by one in priority order. The result is a single
// [relay.DispatchResult] plus the payload as later stages should see it.
//
// # Quick Start
//
//	exec := executor.New(registry, executor.DefaultConfig()).
//	    WithEvents(observers).
//	    WithLogger(logging.Component(logger, "executor"))
//
//	result, payload := exec.Dispatch(ctx, relay.EventPreToolUse, payload)
//	if result.Blocked() {
//	    return fmt.Errorf("tool call blocked: %s", result.BlockReason)
//	}
//
// # Role Gating
//
// Before each hook runs, [Gate] compares the caller's role with the hook's
// declared effects. Leaders run everything. Workers run hooks that declared
// only non-mutating effects, skip hooks that declared a mutating one, and
// abort the dispatch with role_violation when a hook declared nothing or
// something unknown.
//
// # Timeouts
//
// Each hook gets its own deadline. A hook that overruns is reported as a
// timeout and left behind; the dispatch moves on without waiting for it.
package executor
