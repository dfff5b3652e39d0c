package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/events"
	"github.com/rickchristie/relay/hooks"
	"github.com/rickchristie/relay/internal/tt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// hookDef describes one registration for newExecutor. A nil handler leaves the
// target unregistered.
type hookDef struct {
	id              string
	event           relay.HookEvent
	priority        int
	effects         relay.Effects
	handler         relay.Handler
	timeoutMs       int
	continueOnError *bool
	toolPattern     string
}

func newExecutor(t *testing.T, defs ...hookDef) (*Executor, *tt.Collector) {
	t.Helper()
	table := hooks.NewHandlerTable()
	doc := hooks.NewDocument()
	for _, d := range defs {
		target := "test." + d.id
		if d.handler != nil {
			table.Register(target, d.handler)
		}
		rec := hooks.Record{
			ID:              d.id,
			Event:           string(d.event),
			Target:          target,
			Effects:         d.effects,
			ContinueOnError: d.continueOnError,
			ToolNamePattern: d.toolPattern,
		}
		if d.priority != 0 {
			p := d.priority
			rec.Priority = &p
		}
		if d.timeoutMs != 0 {
			ms := d.timeoutMs
			rec.TimeoutMs = &ms
		}
		doc.Hooks = append(doc.Hooks, rec)
	}
	registry := hooks.NewRegistry(table)
	registry.LoadDocument(doc)
	require.Empty(t, registry.Dropped())

	collector := tt.NewCollector()
	exec := New(registry, DefaultConfig()).
		WithEvents(events.NewRegistry().Subscribe(collector)).
		WithLogger(tt.Logger())
	return exec, collector
}

func noEffects() relay.Effects {
	return relay.Effects{}
}

func boolPtr(b bool) *bool {
	return &b
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

func TestGate(t *testing.T) {
	type input struct {
		role    relay.Role
		effects relay.Effects
	}
	type expected struct {
		decision Decision
		reason   string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name:     "leader runs undeclared hooks",
			input:    input{role: relay.RoleLeader, effects: nil},
			expected: expected{decision: Allow},
		},
		{
			name:     "leader runs mutating hooks",
			input:    input{role: relay.RoleLeader, effects: relay.Effects{relay.EffectTodoWrite}},
			expected: expected{decision: Allow},
		},
		{
			name:     "worker with empty effects",
			input:    input{role: relay.RoleWorker, effects: relay.Effects{}},
			expected: expected{decision: Allow},
		},
		{
			name:     "worker with observing effects",
			input:    input{role: relay.RoleWorker, effects: relay.Effects{relay.EffectLog, relay.EffectUI}},
			expected: expected{decision: Allow},
		},
		{
			name:     "worker with undeclared effects",
			input:    input{role: relay.RoleWorker, effects: nil},
			expected: expected{decision: HardError, reason: "not declared"},
		},
		{
			name:     "worker with unknown effect",
			input:    input{role: relay.RoleWorker, effects: relay.Effects{"teleport"}},
			expected: expected{decision: HardError, reason: "teleport"},
		},
		{
			name: "worker with mutating effect",
			input: input{
				role:    relay.RoleWorker,
				effects: relay.Effects{relay.EffectLog, relay.EffectMessageBusWrite},
			},
			expected: expected{decision: Skip, reason: "message_bus_write"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision, reason := Gate(tc.input.role, tc.input.effects)
			assert.Equal(t, tc.expected.decision, decision, decision.String())
			if tc.expected.reason == "" {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tc.expected.reason)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Ordering and role gating
// -----------------------------------------------------------------------------

func TestDispatch_RunsInPriorityOrder(t *testing.T) {
	rec := tt.NewRecorder()
	exec, _ := newExecutor(t,
		hookDef{id: "p20", event: relay.EventPreToolUse, priority: 20, effects: noEffects(), handler: rec.Allow("p20")},
		hookDef{id: "p10", event: relay.EventPreToolUse, priority: 10, effects: noEffects(), handler: rec.Allow("p10")},
		hookDef{id: "p5", event: relay.EventPreToolUse, priority: 5, effects: noEffects(), handler: rec.Allow("p5")},
	)

	result, _ := exec.Dispatch(context.Background(), relay.EventPreToolUse,
		tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))

	assert.True(t, result.OK)
	assert.True(t, result.Allow)
	assert.Equal(t, []string{"p5", "p10", "p20"}, rec.Trace())
	assert.Equal(t, []string{"p5", "p10", "p20"}, result.Executed)
	assert.Equal(t, "run-test", result.RunID)
}

func TestDispatch_RoleGating(t *testing.T) {
	type input struct {
		role    relay.Role
		effects relay.Effects
	}
	type expected struct {
		ok        bool
		allow     bool
		errorCode string
		executed  []string
		skipped   []string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name:  "worker runs side-effect free hook",
			input: input{role: relay.RoleWorker, effects: relay.Effects{}},
			expected: expected{
				ok: true, allow: true,
				executed: []string{"first", "gated", "last"},
			},
		},
		{
			name:  "worker skips mutating hook",
			input: input{role: relay.RoleWorker, effects: relay.Effects{relay.EffectTodoWrite}},
			expected: expected{
				ok: true, allow: true,
				executed: []string{"first", "last"},
				skipped:  []string{"gated"},
			},
		},
		{
			name:  "worker aborts on undeclared effects",
			input: input{role: relay.RoleWorker, effects: nil},
			expected: expected{
				ok: false, allow: false, errorCode: relay.ErrCodeRoleViolation,
				executed: []string{"first"},
			},
		},
		{
			name:  "worker aborts on unknown effect",
			input: input{role: relay.RoleWorker, effects: relay.Effects{"bogus"}},
			expected: expected{
				ok: false, allow: false, errorCode: relay.ErrCodeRoleViolation,
				executed: []string{"first"},
			},
		},
		{
			name:  "leader runs undeclared hook",
			input: input{role: relay.RoleLeader, effects: nil},
			expected: expected{
				ok: true, allow: true,
				executed: []string{"first", "gated", "last"},
			},
		},
		{
			name:  "empty role is the leader",
			input: input{role: "", effects: relay.Effects{relay.EffectFileWrite}},
			expected: expected{
				ok: true, allow: true,
				executed: []string{"first", "gated", "last"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := tt.NewRecorder()
			exec, _ := newExecutor(t,
				hookDef{id: "first", event: relay.EventSessionEnd, priority: 1, effects: noEffects(), handler: rec.Allow("first")},
				hookDef{id: "gated", event: relay.EventSessionEnd, priority: 2, effects: tc.input.effects, handler: rec.Allow("gated")},
				hookDef{id: "last", event: relay.EventSessionEnd, priority: 3, effects: noEffects(), handler: rec.Allow("last")},
			)

			result, _ := exec.Dispatch(context.Background(), relay.EventSessionEnd,
				tt.Payload(relay.EventSessionEnd, tc.input.role, nil))

			assert.Equal(t, tc.expected.ok, result.OK)
			assert.Equal(t, tc.expected.allow, result.Allow)
			assert.Equal(t, tc.expected.errorCode, result.ErrorCode)
			assert.Equal(t, tc.expected.executed, result.Executed)
			assert.Equal(t, tc.expected.executed, rec.Trace())
			assert.Equal(t, tc.expected.skipped, result.Skipped)
		})
	}
}

func TestDispatch_RoleViolationReturnsOriginalPayload(t *testing.T) {
	rewrite := relay.HandlerFunc(func(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
		return relay.Allowed().WithMutation("prompt", "rewritten"), nil
	})
	exec, _ := newExecutor(t,
		hookDef{id: "rewrite", event: relay.EventPromptSubmit, priority: 1, effects: noEffects(), handler: rewrite},
		hookDef{id: "undeclared", event: relay.EventPromptSubmit, priority: 2, handler: tt.NewRecorder().Allow("undeclared")},
	)

	original := tt.PromptPayload(relay.RoleWorker, "hello")
	snapshot := original.Clone()

	result, got := exec.Dispatch(context.Background(), relay.EventPromptSubmit, original)

	assert.Equal(t, relay.ErrCodeRoleViolation, result.ErrorCode)
	assert.Contains(t, result.ErrorMessage, "undeclared")
	assert.True(t, result.Blocked())
	tt.AssertPayloadUnchanged(t, snapshot, got)
	tt.AssertPayloadUnchanged(t, snapshot, original)
}

// -----------------------------------------------------------------------------
// Mutations and blocking
// -----------------------------------------------------------------------------

func TestDispatch_MutationsVisibleToLaterHooks(t *testing.T) {
	rec := tt.NewRecorder()
	rewrite := rec.Func("rewrite", func(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
		return relay.Allowed().
			WithMutation("prompt", "rewritten").
			WithMutation("data.metadata.source", "hook").
			WithMutation("agent_role", "leader"), nil
	})
	exec, _ := newExecutor(t,
		hookDef{id: "rewrite", event: relay.EventPromptSubmit, priority: 1, effects: noEffects(), handler: rewrite},
		hookDef{id: "observe", event: relay.EventPromptSubmit, priority: 2, effects: noEffects(), handler: rec.Allow("observe")},
	)

	original := tt.PromptPayload(relay.RoleWorker, "hello")
	result, final := exec.Dispatch(context.Background(), relay.EventPromptSubmit, original)

	require.True(t, result.OK)
	seen, ok := rec.Seen("observe")
	require.True(t, ok)
	assert.Equal(t, "rewritten", seen.DataString("prompt"))
	assert.Equal(t, map[string]any{"source": "hook"}, seen.DataMap("metadata"))

	assert.Equal(t, "rewritten", final.DataString("prompt"))
	assert.Equal(t, relay.RoleWorker, final.AgentRole)
	assert.NotContains(t, final.Data, "agent_role")
	assert.Equal(t, "hello", original.DataString("prompt"), "caller's payload untouched")

	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], `"agent_role"`)
	assert.Equal(t, int64(2), exec.Stats().GetCounter(relay.KeyMutationsApplied))
	assert.Equal(t, int64(1), exec.Stats().GetCounter(relay.KeyMutationsRejected))
}

func TestDispatch_MutationsIgnoredOnObserverEvents(t *testing.T) {
	mutate := relay.HandlerFunc(func(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
		return relay.Allowed().WithMutation("tool_input.command", "rm -rf /"), nil
	})
	exec, _ := newExecutor(t,
		hookDef{id: "mutate", event: relay.EventPostToolUse, effects: noEffects(), handler: mutate},
	)

	payload := tt.Payload(relay.EventPostToolUse, relay.RoleLeader, map[string]any{
		"tool_name":  "Bash",
		"tool_input": map[string]any{"command": "ls"},
	})
	result, final := exec.Dispatch(context.Background(), relay.EventPostToolUse, payload)

	assert.True(t, result.OK)
	assert.Equal(t, map[string]any{"command": "ls"}, final.DataMap("tool_input"))
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "not mutable")
}

func TestDispatch_Blocking(t *testing.T) {
	type input struct {
		event  relay.HookEvent
		reason string
	}
	type expected struct {
		allow       bool
		blockReason string
		executed    []string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name:  "deny stops a blockable event",
			input: input{event: relay.EventPreToolUse, reason: "dangerous command"},
			expected: expected{
				allow: false, blockReason: "dangerous command",
				executed: []string{"deny"},
			},
		},
		{
			name:  "deny without reason names the hook",
			input: input{event: relay.EventPreToolUse},
			expected: expected{
				allow: false, blockReason: "blocked by hook deny",
				executed: []string{"deny"},
			},
		},
		{
			name:  "deny on observer event is only a note",
			input: input{event: relay.EventPostToolUse, reason: "too late"},
			expected: expected{
				allow:    true,
				executed: []string{"deny", "after"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := tt.NewRecorder()
			exec, _ := newExecutor(t,
				hookDef{id: "deny", event: tc.input.event, priority: 1, effects: noEffects(),
					handler: rec.Handler("deny", relay.Deny(tc.input.reason))},
				hookDef{id: "after", event: tc.input.event, priority: 2, effects: noEffects(),
					handler: rec.Allow("after")},
			)
			payload := tt.ToolPayload(relay.RoleLeader, "Bash", "rm -rf /")
			payload.Event = tc.input.event

			result, _ := exec.Dispatch(context.Background(), tc.input.event, payload)

			assert.True(t, result.OK)
			assert.Equal(t, tc.expected.allow, result.Allow)
			assert.Equal(t, tc.expected.blockReason, result.BlockReason)
			assert.Equal(t, tc.expected.executed, rec.Trace())
		})
	}
}

// -----------------------------------------------------------------------------
// Failure containment
// -----------------------------------------------------------------------------

func TestDispatch_HookFailures(t *testing.T) {
	type expected struct {
		errorCode string
		message   string
	}

	tests := []struct {
		name     string
		handler  relay.Handler
		expected expected
	}{
		{
			name:     "panic",
			handler:  tt.PanicHandler{Value: "kaboom"},
			expected: expected{errorCode: relay.ErrCodeHandlerPanic, message: "kaboom"},
		},
		{
			name: "returned error",
			handler: relay.HandlerFunc(func(context.Context, relay.HookPayload) (relay.HookResult, error) {
				return relay.HookResult{}, errors.New("disk full")
			}),
			expected: expected{errorCode: relay.ErrCodeHandlerError, message: "disk full"},
		},
		{
			name: "not ok without code",
			handler: relay.HandlerFunc(func(context.Context, relay.HookPayload) (relay.HookResult, error) {
				return relay.HookResult{OK: false, Allow: true, ErrorMessage: "half done"}, nil
			}),
			expected: expected{errorCode: relay.ErrCodeHandlerError, message: "half done"},
		},
		{
			name:     "unresolved target",
			handler:  nil,
			expected: expected{errorCode: relay.ErrCodeNotResolved, message: "failing"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := tt.NewRecorder()
			exec, _ := newExecutor(t,
				hookDef{id: "failing", event: relay.EventPreToolUse, priority: 1, effects: noEffects(), handler: tc.handler},
				hookDef{id: "after", event: relay.EventPreToolUse, priority: 2, effects: noEffects(), handler: rec.Allow("after")},
			)

			var result relay.DispatchResult
			require.NotPanics(t, func() {
				result, _ = exec.Dispatch(context.Background(), relay.EventPreToolUse,
					tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))
			})

			assert.False(t, result.OK)
			assert.True(t, result.Allow, "failures never block")
			assert.Equal(t, tc.expected.errorCode, result.ErrorCode)
			assert.Contains(t, result.ErrorMessage, tc.expected.message)
			assert.Equal(t, []string{"failing", "after"}, result.Executed)
			assert.Equal(t, []string{"after"}, rec.Trace(), "continue_on_error defaults to true")
			assert.Equal(t, int64(1), exec.Stats().GetCounter(relay.KeyHookErrors))
		})
	}
}

func TestDispatch_Timeout(t *testing.T) {
	slow := tt.NewSlowHandler(300 * time.Millisecond)
	rec := tt.NewRecorder()
	exec, _ := newExecutor(t,
		hookDef{id: "slow", event: relay.EventPreToolUse, priority: 1, effects: noEffects(), handler: slow, timeoutMs: 30},
		hookDef{id: "after", event: relay.EventPreToolUse, priority: 2, effects: noEffects(), handler: rec.Allow("after")},
	)

	start := time.Now()
	result, _ := exec.Dispatch(context.Background(), relay.EventPreToolUse,
		tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 250*time.Millisecond, "dispatch must not wait for an abandoned hook")
	assert.False(t, result.OK)
	assert.True(t, result.Allow)
	assert.Equal(t, relay.ErrCodeTimeout, result.ErrorCode)
	assert.Equal(t, []string{"after"}, rec.Trace())
	assert.Equal(t, int64(1), exec.Stats().GetCounter(relay.KeyHookTimeouts))

	select {
	case <-slow.Finished:
	case <-time.After(2 * time.Second):
		t.Fatal("slow handler never finished")
	}
}

func TestDispatch_StopsWithoutContinueOnError(t *testing.T) {
	rec := tt.NewRecorder()
	exec, _ := newExecutor(t,
		hookDef{id: "strict", event: relay.EventSessionStart, priority: 1, effects: noEffects(),
			handler: tt.PanicHandler{Value: "nope"}, continueOnError: boolPtr(false)},
		hookDef{id: "after", event: relay.EventSessionStart, priority: 2, effects: noEffects(),
			handler: rec.Allow("after")},
	)

	result, _ := exec.Dispatch(context.Background(), relay.EventSessionStart,
		tt.Payload(relay.EventSessionStart, relay.RoleLeader, nil))

	assert.False(t, result.OK)
	assert.Equal(t, relay.ErrCodeHandlerPanic, result.ErrorCode)
	assert.Equal(t, []string{"strict"}, result.Executed)
	assert.Empty(t, rec.Trace())
}

func TestDispatch_CallerCancellationDoesNotReachHooks(t *testing.T) {
	check := relay.HandlerFunc(func(ctx context.Context, _ relay.HookPayload) (relay.HookResult, error) {
		if err := ctx.Err(); err != nil {
			return relay.HookResult{}, err
		}
		if _, ok := ctx.Deadline(); !ok {
			return relay.HookResult{}, errors.New("hook context has no deadline")
		}
		return relay.Allowed(), nil
	})
	exec, _ := newExecutor(t,
		hookDef{id: "check", event: relay.EventPreToolUse, effects: noEffects(), handler: check},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, _ := exec.Dispatch(ctx, relay.EventPreToolUse, tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))

	assert.True(t, result.OK, result.ErrorMessage)
}

// -----------------------------------------------------------------------------
// Validation and filtering
// -----------------------------------------------------------------------------

func TestDispatch_RejectsBeforeRunningHooks(t *testing.T) {
	type input struct {
		event   relay.HookEvent
		payload relay.HookPayload
	}

	tests := []struct {
		name      string
		input     input
		errorCode string
	}{
		{
			name: "unknown event",
			input: input{
				event:   "post_lunch",
				payload: tt.Payload("post_lunch", relay.RoleLeader, nil),
			},
			errorCode: relay.ErrCodeUnknownEvent,
		},
		{
			name: "missing required field",
			input: input{
				event:   relay.EventPreToolUse,
				payload: tt.Payload(relay.EventPreToolUse, relay.RoleLeader, map[string]any{"tool_input": map[string]any{}}),
			},
			errorCode: relay.ErrCodeInvalidPayload,
		},
		{
			name: "wrong field type",
			input: input{
				event:   relay.EventPromptSubmit,
				payload: tt.Payload(relay.EventPromptSubmit, relay.RoleLeader, map[string]any{"prompt": 42}),
			},
			errorCode: relay.ErrCodeInvalidPayload,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := tt.NewRecorder()
			var defs []hookDef
			for _, e := range relay.AllHookEvents() {
				defs = append(defs, hookDef{
					id: "h_" + string(e), event: e, effects: noEffects(), handler: rec.Allow(string(e)),
				})
			}
			exec, _ := newExecutor(t, defs...)
			snapshot := tc.input.payload.Clone()

			result, got := exec.Dispatch(context.Background(), tc.input.event, tc.input.payload)

			assert.False(t, result.OK)
			assert.False(t, result.Allow)
			assert.Equal(t, tc.errorCode, result.ErrorCode)
			assert.Empty(t, result.Executed)
			assert.Empty(t, rec.Trace())
			tt.AssertPayloadUnchanged(t, snapshot, got)
			assert.Equal(t, int64(1), exec.Stats().GetCounter(relay.KeyInvalidPayloads))
		})
	}
}

func TestDispatch_NoHooksSkipsValidation(t *testing.T) {
	rec := tt.NewRecorder()
	exec, collector := newExecutor(t, hookDef{
		id: "guard", event: relay.EventPreToolUse, effects: noEffects(), handler: rec.Allow("guard"),
	})
	payload := tt.Payload(relay.EventPromptSubmit, relay.RoleWorker, map[string]any{"prompt": 42})
	snapshot := payload.Clone()

	result, got := exec.Dispatch(context.Background(), relay.EventPromptSubmit, payload)

	assert.True(t, result.OK)
	assert.True(t, result.Allow)
	assert.Empty(t, result.ErrorCode)
	assert.Empty(t, result.Executed)
	assert.Empty(t, rec.Trace())
	tt.AssertPayloadUnchanged(t, snapshot, got)
	assert.Zero(t, exec.Stats().GetCounter(relay.KeyInvalidPayloads))
	require.Len(t, collector.Completed(), 1)
}

func TestDispatch_ToolNamePattern(t *testing.T) {
	rec := tt.NewRecorder()
	exec, _ := newExecutor(t,
		hookDef{id: "bash_only", event: relay.EventPreToolUse, priority: 1, effects: noEffects(),
			handler: rec.Allow("bash_only"), toolPattern: "^Bash$"},
		hookDef{id: "all", event: relay.EventPreToolUse, priority: 2, effects: noEffects(),
			handler: rec.Allow("all")},
	)

	result, _ := exec.Dispatch(context.Background(), relay.EventPreToolUse,
		tt.ToolPayload(relay.RoleLeader, "Read", "notes.md"))
	assert.Equal(t, []string{"all"}, result.Executed)

	result, _ = exec.Dispatch(context.Background(), relay.EventPreToolUse,
		tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))
	assert.Equal(t, []string{"bash_only", "all"}, result.Executed)
}

func TestDispatch_NoHooks(t *testing.T) {
	exec, collector := newExecutor(t)
	payload := tt.Payload(relay.EventHealthCheck, relay.RoleWorker, map[string]any{"probe": "liveness"})

	result, got := exec.Dispatch(context.Background(), relay.EventHealthCheck, payload)

	assert.True(t, result.OK)
	assert.True(t, result.Allow)
	assert.Equal(t, []string{}, result.Executed)
	tt.AssertPayloadUnchanged(t, payload, got)
	assert.Len(t, collector.Completed(), 1)
}

func TestDispatch_GeneratesRunID(t *testing.T) {
	exec, _ := newExecutor(t)
	payload := relay.NewPayload(relay.EventSessionEnd, relay.RoleLeader, nil)

	first, _ := exec.Dispatch(context.Background(), relay.EventSessionEnd, payload)
	second, _ := exec.Dispatch(context.Background(), relay.EventSessionEnd, payload)

	assert.NotEmpty(t, first.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
}

// -----------------------------------------------------------------------------
// Context aggregation
// -----------------------------------------------------------------------------

func TestDispatch_AggregatesNotesAndContext(t *testing.T) {
	exec, _ := newExecutor(t,
		hookDef{id: "a", event: relay.EventSessionStart, priority: 1, effects: noEffects(),
			handler: tt.NewRecorder().Handler("a", relay.Allowed().WithNote("first").WithContext("inbox: 2 unread"))},
		hookDef{id: "b", event: relay.EventSessionStart, priority: 2, effects: noEffects(),
			handler: tt.NewRecorder().Handler("b", relay.Allowed().WithNote("second").WithContext("todo: 1 open"))},
	)

	result, _ := exec.Dispatch(context.Background(), relay.EventSessionStart,
		tt.Payload(relay.EventSessionStart, relay.RoleLeader, map[string]any{"source": "startup"}))

	assert.Equal(t, []string{"first", "second"}, result.Notes)
	assert.Equal(t, "inbox: 2 unread\n\ntodo: 1 open", result.InjectContext)
}

// -----------------------------------------------------------------------------
// Async, observers and stats
// -----------------------------------------------------------------------------

func TestDispatchAsync_Concurrent(t *testing.T) {
	var mu sync.Mutex
	active := 0
	maxActive := 0
	track := relay.HandlerFunc(func(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return relay.Allowed().WithMutation("prompt", strings.ToUpper(p.DataString("prompt"))), nil
	})
	exec, _ := newExecutor(t,
		hookDef{id: "upper", event: relay.EventPromptSubmit, effects: noEffects(), handler: track},
	)

	const n = 8
	outs := make([]<-chan Outcome, n)
	for i := 0; i < n; i++ {
		outs[i] = exec.DispatchAsync(context.Background(), relay.EventPromptSubmit,
			tt.PromptPayload(relay.RoleWorker, fmt.Sprintf("prompt %d", i)))
	}

	for i, ch := range outs {
		select {
		case out, ok := <-ch:
			require.True(t, ok)
			assert.True(t, out.Result.OK)
			assert.Equal(t, fmt.Sprintf("PROMPT %d", i), out.Payload.DataString("prompt"))
			_, open := <-ch
			assert.False(t, open, "channel closes after one outcome")
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatch %d never completed", i)
		}
	}

	assert.Greater(t, maxActive, 1, "independent dispatches overlap")
	assert.Equal(t, float64(0), exec.Stats().GetGauge(relay.KeyInFlightDispatches))
}

func TestDispatch_PublishesObserverEvents(t *testing.T) {
	exec, collector := newExecutor(t,
		hookDef{id: "write_todo", event: relay.EventSessionEnd, priority: 1,
			effects: relay.Effects{relay.EffectTodoWrite}, handler: tt.NewRecorder().Allow("write_todo")},
		hookDef{id: "notify", event: relay.EventSessionEnd, priority: 2,
			effects: relay.Effects{relay.EffectNotify}, handler: tt.NewRecorder().Allow("notify")},
	)

	exec.Dispatch(context.Background(), relay.EventSessionEnd,
		tt.Payload(relay.EventSessionEnd, relay.RoleWorker, nil))

	got := collector.Events()
	require.Len(t, got, 4)

	started, ok := got[0].(*relay.DispatchStartedEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"write_todo", "notify"}, started.HookIDs)
	assert.Equal(t, relay.RoleWorker, started.Role)

	skipped, ok := got[1].(*relay.HookSkippedEvent)
	require.True(t, ok)
	assert.Equal(t, "write_todo", skipped.HookID)

	completed, ok := got[2].(*relay.HookCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "notify", completed.HookID)
	assert.True(t, completed.Result.OK)

	done, ok := got[3].(*relay.DispatchCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"notify"}, done.Result.Executed)
	assert.Equal(t, []string{"write_todo"}, done.Result.Skipped)

	stats := exec.Stats()
	assert.Equal(t, int64(1), stats.GetCounter(relay.KeyDispatches))
	assert.Equal(t, int64(1), stats.GetCounter(relay.KeyDispatchesFor.For(string(relay.EventSessionEnd))))
	assert.Equal(t, int64(1), stats.GetCounter(relay.KeyHooksExecuted))
	assert.Equal(t, int64(1), stats.GetCounter(relay.KeyHooksSkipped))
	assert.Equal(t, int64(1), stats.GetCounter(relay.KeyHooksExecutedFor.For("notify")))
}

func TestDispatch_BlockedCounter(t *testing.T) {
	exec, _ := newExecutor(t,
		hookDef{id: "deny", event: relay.EventPreToolUse, effects: noEffects(),
			handler: tt.NewRecorder().Handler("deny", relay.Deny("no"))},
	)
	clock := relay.NewMockTimeProvider(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	exec.WithTimeProvider(clock)

	result, _ := exec.Dispatch(context.Background(), relay.EventPreToolUse,
		tt.ToolPayload(relay.RoleLeader, "Bash", "ls"))

	assert.True(t, result.Blocked())
	assert.Equal(t, time.Duration(0), result.Duration)
	assert.Equal(t, int64(1), exec.Stats().GetCounter(relay.KeyBlocked))
}
