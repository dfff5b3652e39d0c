package events

import (
	"io"
	"sync"

	"github.com/rickchristie/relay"
	"github.com/sirupsen/logrus"
)

// Registry manages observer subscribers and dispatches events to them.
//
// # Overview
//
// Registry is the fan-out point between the executor and anything that wants
// to watch dispatches (the audit recorder, loggers, tests). It:
//   - Stores registered subscribers in order
//   - Dispatches events to subscribers that implement the relevant interface
//   - Isolates the executor from subscriber panics
//
// Subscribers can implement any combination of subscriber interfaces; they only
// receive events for the interfaces they implement.
//
// # Creating and Using
//
//	registry := events.NewRegistry()
//	registry.Subscribe(audit.NewRecorder(sink))
//	registry.Subscribe(&BlockLogger{})
//
//	exec := executor.New(hooks, executor.DefaultConfig()).WithEvents(registry)
//
// # Thread Safety
//
// Registry is safe for concurrent use. Concurrent dispatches publish from
// different goroutines, so subscribers must be safe for concurrent use too.
// Subscribe may be called while dispatches are running; a subscriber added
// mid-dispatch may miss that dispatch's earlier events.
type Registry struct {
	mu          sync.RWMutex
	subscribers []any
	log         *logrus.Entry
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Registry{
		subscribers: make([]any, 0),
		log:         logrus.NewEntry(l),
	}
}

// WithLogger sets the logger used to report subscriber panics.
func (r *Registry) WithLogger(log *logrus.Entry) *Registry {
	if log != nil {
		r.log = log
	}
	return r
}

// Subscribe adds a subscriber. Subscribers are called in the order they are
// registered.
func (r *Registry) Subscribe(subscriber any) *Registry {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, subscriber)
	r.mu.Unlock()
	return r
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Dispatch sends an event to all matching subscribers.
func (r *Registry) Dispatch(event relay.ObserverEvent) {
	r.mu.RLock()
	subscribers := r.subscribers
	r.mu.RUnlock()

	for _, s := range subscribers {
		r.deliver(s, event)
	}
}

func (r *Registry) deliver(s any, event relay.ObserverEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", rec).Error("observer subscriber panicked")
		}
	}()

	switch e := event.(type) {
	case *relay.DispatchStartedEvent:
		if sub, ok := s.(relay.DispatchStartedSubscriber); ok {
			sub.OnDispatchStarted(e)
		}
	case *relay.DispatchCompletedEvent:
		if sub, ok := s.(relay.DispatchCompletedSubscriber); ok {
			sub.OnDispatchCompleted(e)
		}
	case *relay.HookCompletedEvent:
		if sub, ok := s.(relay.HookCompletedSubscriber); ok {
			sub.OnHookCompleted(e)
		}
	case *relay.HookSkippedEvent:
		if sub, ok := s.(relay.HookSkippedSubscriber); ok {
			sub.OnHookSkipped(e)
		}
	}
}

var _ relay.Publisher = (*Registry)(nil)
