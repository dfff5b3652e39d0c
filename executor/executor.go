package executor

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/hooks"
	"github.com/rickchristie/relay/schema"
	"github.com/sirupsen/logrus"
)

// Config holds configuration options for the Executor.
type Config struct {
	// Schemas validates event data before any hook runs. nil disables
	// validation.
	Schemas *schema.Set
}

// DefaultConfig validates event data against the built-in schemas.
func DefaultConfig() Config {
	return Config{Schemas: schema.Default()}
}

// HookSource supplies the ordered hook list for an event. *hooks.Registry
// implements it.
type HookSource interface {
	HooksForEvent(event relay.HookEvent) []hooks.Hook
}

// Outcome is what DispatchAsync delivers.
type Outcome struct {
	Result  relay.DispatchResult
	Payload relay.HookPayload
}

// Executor runs dispatches: one pass of every eligible hook for one event
// occurrence.
//
// The Executor is responsible for:
//   - Rejecting unknown events and event data that fails its schema
//   - Gating each hook by the caller's role and the hook's declared effects
//   - Running hooks one at a time, each under its own timeout
//   - Folding hook results into one aggregate and applying mutations
//   - Publishing observer events and updating stats
//
// Dispatch never returns a Go error and never panics because of a hook. Every
// failure is reported through the aggregate's OK flag and error code.
//
// # Thread Safety
//
// One Executor serves any number of concurrent dispatches. Hooks within one
// dispatch never overlap.
type Executor struct {
	source HookSource
	config Config
	events relay.Publisher
	stats  *relay.Stats
	clock  relay.TimeProvider
	log    *logrus.Entry
}

// New creates an Executor reading hooks from source.
func New(source HookSource, config Config) *Executor {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Executor{
		source: source,
		config: config,
		stats:  relay.NewStats(),
		clock:  relay.NewDefaultTimeProvider(),
		log:    logrus.NewEntry(l),
	}
}

// WithEvents sets the observer registry. Returns the executor for chaining.
func (e *Executor) WithEvents(p relay.Publisher) *Executor {
	e.events = p
	return e
}

// WithStats replaces the stats sink, e.g. to share one across executors.
func (e *Executor) WithStats(s *relay.Stats) *Executor {
	if s != nil {
		e.stats = s
	}
	return e
}

// WithTimeProvider sets the clock used for durations.
func (e *Executor) WithTimeProvider(tp relay.TimeProvider) *Executor {
	if tp != nil {
		e.clock = tp
	}
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(log *logrus.Entry) *Executor {
	if log != nil {
		e.log = log
	}
	return e
}

// Stats returns the executor's counters.
func (e *Executor) Stats() *relay.Stats {
	return e.stats
}

// Dispatch runs every eligible hook for event and returns the aggregate
// result with the final payload.
//
// The flow:
//  1. Unknown event: error result, payload returned untouched. An event with
//     no hooks succeeds with the payload unchanged; otherwise event data
//     failing its schema is an error result and no hook runs.
//  2. For each hook in priority order (hooks whose tool name pattern does not
//     match are passed over):
//     - the role gate may skip the hook, or abort the dispatch; an abort
//     returns the caller's original payload
//     - the hook runs under its timeout and its result is merged
//     - a denial on a blockable event stops the dispatch
//     - mutations on a mutable event are applied to the working payload,
//     which later hooks receive
//     - a failed hook without continue_on_error stops the dispatch
//  3. The aggregate and the working payload are returned.
//
// The caller's payload is never modified; its Data is deep-copied first.
// The caller's ctx supplies values to handlers but its cancellation does not
// interrupt a dispatch in progress.
func (e *Executor) Dispatch(
	ctx context.Context,
	event relay.HookEvent,
	payload relay.HookPayload,
) (relay.DispatchResult, relay.HookPayload) {
	start := e.clock.Now()
	runID := payload.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	role := relay.ParseRole(string(payload.AgentRole))
	agg := relay.NewDispatchResult(event, runID)
	log := e.log.WithFields(logrus.Fields{"event": event, "run_id": runID, "role": role})

	e.stats.IncrCounter(relay.KeyDispatches, 1)
	e.stats.IncrGauge(relay.KeyInFlightDispatches, 1)
	defer e.stats.IncrGauge(relay.KeyInFlightDispatches, -1)

	finish := func(final relay.HookPayload) (relay.DispatchResult, relay.HookPayload) {
		agg.Duration = e.clock.Since(start)
		if agg.Blocked() {
			e.stats.IncrCounter(relay.KeyBlocked, 1)
		}
		e.publish(&relay.DispatchCompletedEvent{
			Event:   event,
			RunID:   runID,
			Role:    role,
			Result:  agg,
			Payload: final,
		})
		return agg, final
	}

	if !event.Valid() {
		e.stats.IncrCounter(relay.KeyInvalidPayloads, 1)
		agg.Abort(relay.ErrCodeUnknownEvent, fmt.Sprintf("unknown hook event %q", event))
		log.Warn("dispatch rejected: unknown event")
		return finish(payload)
	}
	e.stats.IncrCounter(relay.KeyDispatchesFor.For(string(event)), 1)

	list := e.source.HooksForEvent(event)
	if len(list) > 0 {
		if err := e.config.Schemas.Validate(event, payload.Data); err != nil {
			e.stats.IncrCounter(relay.KeyInvalidPayloads, 1)
			agg.Abort(relay.ErrCodeInvalidPayload, err.Error())
			log.WithError(err).Warn("dispatch rejected: invalid event data")
			return finish(payload)
		}
	}

	ids := make([]string, len(list))
	for i, h := range list {
		ids[i] = h.ID
	}
	e.publish(&relay.DispatchStartedEvent{Event: event, RunID: runID, Role: role, HookIDs: ids})

	if len(list) == 0 {
		return finish(payload)
	}

	working := payload.Clone()
	working.Event = event

	for _, h := range list {
		if !h.MatchesTool(working.ToolName()) {
			continue
		}
		hookLog := log.WithField("hook_id", h.ID)

		decision, reason := Gate(role, h.Effects)
		switch decision {
		case HardError:
			e.stats.IncrCounter(relay.KeyRoleViolations, 1)
			agg.Abort(
				relay.ErrCodeRoleViolation,
				fmt.Sprintf("hook %s cannot run for a worker: %s", h.ID, reason),
			)
			hookLog.WithField("reason", reason).Warn("role violation, dispatch aborted")
			return finish(payload)
		case Skip:
			e.stats.IncrCounter(relay.KeyHooksSkipped, 1)
			agg.Skipped = append(agg.Skipped, h.ID)
			agg.Notes = append(agg.Notes, fmt.Sprintf("skipped hook %s for worker: %s", h.ID, reason))
			e.publish(&relay.HookSkippedEvent{Event: event, RunID: runID, HookID: h.ID, Reason: reason})
			hookLog.Debug("hook skipped for worker")
			continue
		}

		hookStart := e.clock.Now()
		res := runHook(ctx, h, working.Clone())
		elapsed := e.clock.Since(hookStart)

		agg.Executed = append(agg.Executed, h.ID)
		agg.Merge(res)
		e.countHook(h.ID, res)
		if !res.OK {
			hookLog.WithFields(logrus.Fields{
				"error_code": res.ErrorCode,
				"error":      res.ErrorMessage,
			}).Warn("hook failed")
		}

		var rejected []relay.MutationRejection
		denied := !res.Allow && event.IsBlockable()
		switch {
		case denied:
			agg.Allow = false
			agg.BlockReason = res.BlockReason
			if agg.BlockReason == "" {
				agg.BlockReason = fmt.Sprintf("blocked by hook %s", h.ID)
			}
			hookLog.WithField("reason", agg.BlockReason).Info("event blocked")
		case !res.Allow:
			agg.Notes = append(agg.Notes, fmt.Sprintf("hook %s denied %s, which is not blockable", h.ID, event))
		}

		if !denied && len(res.Mutations) > 0 {
			if event.IsMutable() {
				rejected = relay.ApplyMutations(&working, res.Mutations)
				e.stats.IncrCounter(relay.KeyMutationsApplied, int64(len(res.Mutations)-len(rejected)))
				e.stats.IncrCounter(relay.KeyMutationsRejected, int64(len(rejected)))
				for _, r := range rejected {
					agg.Notes = append(agg.Notes, fmt.Sprintf("hook %s: %s", h.ID, r))
				}
			} else {
				agg.Notes = append(agg.Notes, fmt.Sprintf("hook %s: mutations ignored, %s is not mutable", h.ID, event))
			}
		}

		e.publish(&relay.HookCompletedEvent{
			Event:    event,
			RunID:    runID,
			HookID:   h.ID,
			Result:   res,
			Rejected: rejected,
			Duration: elapsed,
		})

		if denied {
			break
		}
		if !res.OK && !h.ContinueOnError {
			hookLog.Debug("hook failed without continue_on_error, stopping dispatch")
			break
		}
	}

	return finish(working)
}

// DispatchAsync runs Dispatch in a new goroutine. The channel receives exactly
// one Outcome and is then closed. Ordering, blocking and mutation semantics
// are those of Dispatch.
func (e *Executor) DispatchAsync(
	ctx context.Context,
	event relay.HookEvent,
	payload relay.HookPayload,
) <-chan Outcome {
	out := make(chan Outcome, 1)
	payload = payload.Clone()
	go func() {
		defer close(out)
		result, final := e.Dispatch(ctx, event, payload)
		out <- Outcome{Result: result, Payload: final}
	}()
	return out
}

func (e *Executor) countHook(id string, res relay.HookResult) {
	e.stats.IncrCounter(relay.KeyHooksExecuted, 1)
	e.stats.IncrCounter(relay.KeyHooksExecutedFor.For(id), 1)
	if res.OK {
		return
	}
	e.stats.IncrCounter(relay.KeyHookErrors, 1)
	e.stats.IncrCounter(relay.KeyHookErrorsFor.For(id), 1)
	if res.ErrorCode == relay.ErrCodeTimeout {
		e.stats.IncrCounter(relay.KeyHookTimeouts, 1)
	}
}

func (e *Executor) publish(event relay.ObserverEvent) {
	if e.events != nil {
		e.events.Dispatch(event)
	}
}
