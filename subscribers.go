package relay

// Subscriber interfaces define type-safe observer subscriptions.
//
// Implement any combination of these interfaces on a single struct to receive
// multiple event types. The events.Registry detects which interfaces your
// struct implements and calls the matching methods.
//
// # Example
//
//	type blockLogger struct {
//	    log *logrus.Entry
//	}
//
//	func (b *blockLogger) OnDispatchCompleted(event *DispatchCompletedEvent) {
//	    if event.Result.Blocked() {
//	        b.log.WithField("event", event.Event).Info(event.Result.BlockReason)
//	    }
//	}
//
//	registry := events.NewRegistry()
//	registry.Subscribe(&blockLogger{log: logger})

// DispatchStartedSubscriber receives DispatchStartedEvent events.
type DispatchStartedSubscriber interface {
	OnDispatchStarted(event *DispatchStartedEvent)
}

// DispatchCompletedSubscriber receives DispatchCompletedEvent events.
type DispatchCompletedSubscriber interface {
	OnDispatchCompleted(event *DispatchCompletedEvent)
}

// HookCompletedSubscriber receives HookCompletedEvent events.
type HookCompletedSubscriber interface {
	OnHookCompleted(event *HookCompletedEvent)
}

// HookSkippedSubscriber receives HookSkippedEvent events.
type HookSkippedSubscriber interface {
	OnHookSkipped(event *HookSkippedEvent)
}

// Publisher is what the executor needs from an observer registry.
type Publisher interface {
	Dispatch(event ObserverEvent)
}
