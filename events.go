package relay

import "time"

// -----------------------------------------------------------------------------
// Observer Event Interface
// -----------------------------------------------------------------------------

// ObserverEvent is a marker interface for events the executor publishes about
// its own progress. Observers see them after the fact; unlike hooks they cannot
// block or mutate anything.
type ObserverEvent interface {
	observerEvent()
}

// -----------------------------------------------------------------------------
// Dispatch Events
// -----------------------------------------------------------------------------

// DispatchStartedEvent is emitted once a dispatch has validated its payload and
// fetched its hook list.
type DispatchStartedEvent struct {
	Event HookEvent
	RunID string
	Role  Role

	// HookIDs lists the candidate hooks in execution order.
	HookIDs []string
}

func (DispatchStartedEvent) observerEvent() {}

// DispatchCompletedEvent is emitted once per dispatch, including dispatches
// rejected before any hook ran.
type DispatchCompletedEvent struct {
	Event  HookEvent
	RunID  string
	Role   Role
	Result DispatchResult

	// Payload is the final payload returned to the caller.
	Payload HookPayload
}

func (DispatchCompletedEvent) observerEvent() {}

// -----------------------------------------------------------------------------
// Hook Events
// -----------------------------------------------------------------------------

// HookCompletedEvent is emitted after each hook that actually ran.
type HookCompletedEvent struct {
	Event  HookEvent
	RunID  string
	HookID string
	Result HookResult

	// Rejected lists mutations from this hook that were not applied.
	Rejected []MutationRejection

	Duration time.Duration
}

func (HookCompletedEvent) observerEvent() {}

// HookSkippedEvent is emitted when the role gate withholds a hook from a
// worker.
type HookSkippedEvent struct {
	Event  HookEvent
	RunID  string
	HookID string
	Reason string
}

func (HookSkippedEvent) observerEvent() {}
