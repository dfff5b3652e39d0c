// Package relay coordinates cooperating agent processes working on one project.
//
// A relay process owns two things: a hook pipeline that every lifecycle moment
// (session start, prompt submit, tool use, model response) passes through, and
// a message bus agents use to hand work to each other. One agent is the
// trusted leader; every other agent is a worker.
//
// This root package holds the shared vocabulary: [HookEvent], [HookAction],
// [HookResult], [HookPayload], [Effect] and [Role]. The moving parts live in
// sub-packages:
//
//   - hooks: loads the hook configuration document and resolves targets
//   - executor: runs one dispatch, gates hooks by role, applies mutations
//   - bus: messages, the claim state machine and whole-document persistence
//   - harness: builds all of the above once and tears it down
//   - gateway: the HTTP boundary agents call, and a client for it
//   - audit: records finished dispatches to SQLite and Meilisearch
//
// The relay command (cmd/relay) wraps all of it: serve, hooks, dispatch, bus
// and an interactive console.
//
// # Quick Start
//
//	table := hooks.NewHandlerTable()
//	table.Register("guard.no_rm", relay.HandlerFunc(
//	    func(ctx context.Context, p relay.HookPayload) (relay.HookResult, error) {
//	        cmd, _ := p.DataMap("tool_input")["command"].(string)
//	        if strings.Contains(cmd, "rm -rf") {
//	            return relay.Deny("rm -rf is not allowed"), nil
//	        }
//	        return relay.Allowed(), nil
//	    },
//	))
//
//	registry := hooks.NewRegistry(table).WithLogger(log)
//	if err := registry.Load(".relay/hooks.json"); err != nil {
//	    return err
//	}
//
//	exec := executor.New(registry, executor.DefaultConfig())
//	payload := relay.NewPayload(relay.EventPreToolUse, relay.RoleWorker, map[string]any{
//	    "tool_name":  "bash",
//	    "tool_input": map[string]any{"command": "rm -rf /"},
//	})
//	result, payload := exec.Dispatch(ctx, relay.EventPreToolUse, payload)
//	if result.Blocked() {
//	    fmt.Println("blocked:", result.BlockReason)
//	}
//
// # Events
//
// [HookEvent] is a closed set. Three events are both mutable and blockable:
// prompt_submit, model_request_start and pre_tool_use. On those a hook may
// rewrite the payload through [HookResult.Mutations] and veto the event with
// [Deny]. Mutations and denials on any other event are ignored.
//
// # Effects and Roles
//
// Every [HookAction] declares the shared state it writes through its
// [Effects]. The declaration is the only input to role gating:
//
//   - leader: every hook runs
//   - worker, effects undeclared or invalid: the dispatch aborts with a
//     role_violation error and the payload is returned untouched
//   - worker, effects empty: the hook runs
//   - worker, any mutating effect ([MutatingEffects]): the hook is skipped
//     with a note
//   - worker, only observing effects (network, notify, ui, log): the hook runs
//
// # Mutations
//
// Mutation keys are dotted paths into [HookPayload.Data]. [ApplyMutations]
// only writes below the prefixes listed by [HookEvent.MutablePrefixes], so a
// hook can rewrite "tool_input.command" on pre_tool_use but can never touch
// the envelope (role, session, harness paths).
//
// # Observers
//
// The executor publishes [ObserverEvent] values (dispatch started, hook
// completed, hook skipped, dispatch completed) to an events.Registry.
// Implement any of the subscriber interfaces in this package to receive them;
// the audit package records dispatches this way.
package relay
