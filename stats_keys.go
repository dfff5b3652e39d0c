package relay

// Standard key prefix for all relay keys.
const KeyPrefix = "relay:"

// Dispatch tracking.
const (
	KeyDispatches    StatKey = "relay:dispatches"
	KeyDispatchesFor StatKey = "relay:dispatches:" // + event name

	KeyInFlightDispatches StatKey = "relay:dispatches_in_flight"
)

// Per-hook outcomes.
const (
	KeyHooksExecuted    StatKey = "relay:hooks_executed"
	KeyHooksExecutedFor StatKey = "relay:hooks_executed:" // + hook id
	KeyHooksSkipped     StatKey = "relay:hooks_skipped"
	KeyHookErrors       StatKey = "relay:hook_errors"
	KeyHookErrorsFor    StatKey = "relay:hook_errors:" // + hook id
	KeyHookTimeouts     StatKey = "relay:hook_timeouts"
)

// Dispatch outcomes.
const (
	KeyBlocked           StatKey = "relay:blocked"
	KeyRoleViolations    StatKey = "relay:role_violations"
	KeyInvalidPayloads   StatKey = "relay:invalid_payloads"
	KeyMutationsApplied  StatKey = "relay:mutations_applied"
	KeyMutationsRejected StatKey = "relay:mutations_rejected"
)

// Model calls made by model-backed hooks.
const (
	KeyModelCalls        StatKey = "relay:model_calls"
	KeyModelErrors       StatKey = "relay:model_errors"
	KeyModelInputTokens  StatKey = "relay:model_input_tokens"
	KeyModelOutputTokens StatKey = "relay:model_output_tokens"
)
