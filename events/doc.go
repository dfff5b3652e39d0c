// Package events provides the observer registry for dispatch events.
//
// The executor publishes a [relay.DispatchStartedEvent] when a dispatch
// begins, a [relay.HookCompletedEvent] or [relay.HookSkippedEvent] per hook,
// and a [relay.DispatchCompletedEvent] at the end. Observers only watch: they
// cannot block an event or rewrite its payload. That is what hooks are for.
//
// # Quick Start
//
//	type skipLogger struct{ log *logrus.Entry }
//
//	func (s *skipLogger) OnHookSkipped(e *relay.HookSkippedEvent) {
//	    s.log.WithField("hook_id", e.HookID).Info(e.Reason)
//	}
//
//	registry := events.NewRegistry().Subscribe(&skipLogger{log: logger})
//
// Pointer events are shared between subscribers; treat them as read-only.
package events
