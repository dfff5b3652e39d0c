package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/hooks"
)

// runHook executes h under its timeout and converts every failure into a
// result.
//
// The handler runs in its own goroutine. When the timeout fires first, the
// goroutine is abandoned, not killed: its context is cancelled and its
// eventual result is dropped, but a handler that ignores ctx keeps running.
// Command hooks are the exception since cancelling their context kills the
// process group.
//
// The hook context drops the caller's cancellation (but keeps its values), so
// a caller that walks away mid-dispatch does not cut hooks short.
func runHook(ctx context.Context, h hooks.Hook, payload relay.HookPayload) relay.HookResult {
	if h.Handler == nil {
		reason := h.ResolveError
		if reason == "" {
			reason = "no handler"
		}
		return relay.Failed(relay.ErrCodeNotResolved, fmt.Sprintf("hook %s not resolved: %s", h.ID, reason))
	}

	timeout := h.EffectiveTimeout()
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan relay.HookResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- relay.Failed(relay.ErrCodeHandlerPanic, fmt.Sprintf("hook %s panicked: %v", h.ID, r))
			}
		}()
		res, err := h.Handler.Handle(hctx, payload)
		if err != nil {
			done <- relay.Failed(relay.ErrCodeHandlerError, fmt.Sprintf("hook %s: %v", h.ID, err))
			return
		}
		if !res.OK && res.ErrorCode == "" {
			res.ErrorCode = relay.ErrCodeHandlerError
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-hctx.Done():
		// A result that landed at the same instant still wins.
		select {
		case res := <-done:
			return res
		default:
		}
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return relay.Failed(relay.ErrCodeTimeout, fmt.Sprintf("hook %s timed out after %s", h.ID, timeout))
		}
		return relay.Failed(relay.ErrCodeHandlerError, fmt.Sprintf("hook %s: %v", h.ID, hctx.Err()))
	}
}
