package events

import (
	"sync"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/buffer"
)

// DefaultFeedBuffer is how many undelivered entries a feed subscriber may
// hold before the oldest are dropped.
const DefaultFeedBuffer = 1024

// Entry kinds.
const (
	KindDispatchStarted   = "dispatch_started"
	KindHookCompleted     = "hook_completed"
	KindHookSkipped       = "hook_skipped"
	KindDispatchCompleted = "dispatch_completed"
)

// Entry is one observer event flattened for streaming to clients.
type Entry struct {
	Kind  string          `json:"kind"`
	Time  time.Time       `json:"time"`
	Event relay.HookEvent `json:"event"`
	RunID string          `json:"run_id"`
	Role  relay.Role      `json:"role,omitempty"`

	HookID  string   `json:"hook_id,omitempty"`
	HookIDs []string `json:"hook_ids,omitempty"`

	OK          bool   `json:"ok"`
	Allow       bool   `json:"allow"`
	BlockReason string `json:"block_reason,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Reason      string `json:"reason,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// UnsubscribeFunc cancels a feed subscription and drops anything still
// queued for it; its channel closes. Safe to call more than once.
type UnsubscribeFunc func()

type feedSubscription struct {
	id    uint64
	queue *buffer.Queue[Entry]
}

// Feed fans observer events out to live subscribers: everything, one run, or
// one hook event. Subscribe it to a Registry.
//
//	feed := events.NewFeed(events.DefaultFeedBuffer)
//	registry.Subscribe(feed)
//	ch, unsubscribe := feed.SubscribeRun(runID)
//	defer unsubscribe()
//
// Publishing never blocks the executor: each subscriber has its own bounded
// queue, and a subscriber that falls behind loses its oldest entries.
type Feed struct {
	mu sync.RWMutex

	all     []*feedSubscription
	byRun   map[string][]*feedSubscription
	byEvent map[relay.HookEvent][]*feedSubscription

	closed bool
	nextID uint64
	limit  int
	clock  relay.TimeProvider
}

// NewFeed creates a feed whose subscribers buffer up to limit entries.
func NewFeed(limit int) *Feed {
	return &Feed{
		byRun:   make(map[string][]*feedSubscription),
		byEvent: make(map[relay.HookEvent][]*feedSubscription),
		limit:   limit,
		clock:   relay.NewDefaultTimeProvider(),
	}
}

// WithTimeProvider sets the clock used to stamp entries.
func (f *Feed) WithTimeProvider(tp relay.TimeProvider) *Feed {
	if tp != nil {
		f.clock = tp
	}
	return f
}

// SubscribeAll receives every entry.
func (f *Feed) SubscribeAll() (<-chan Entry, UnsubscribeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return closedFeed()
	}
	sub := f.newSubscription()
	f.all = append(f.all, sub)
	return sub.queue.Out(), func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.queue.Discard()
		f.all = without(f.all, sub)
	}
}

// SubscribeRun receives the entries of one dispatch.
func (f *Feed) SubscribeRun(runID string) (<-chan Entry, UnsubscribeFunc) {
	if runID == "" {
		return f.SubscribeAll()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return closedFeed()
	}
	sub := f.newSubscription()
	f.byRun[runID] = append(f.byRun[runID], sub)
	return sub.queue.Out(), func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.queue.Discard()
		if rest := without(f.byRun[runID], sub); len(rest) > 0 {
			f.byRun[runID] = rest
		} else {
			delete(f.byRun, runID)
		}
	}
}

// SubscribeEvent receives the entries of every dispatch of event.
func (f *Feed) SubscribeEvent(event relay.HookEvent) (<-chan Entry, UnsubscribeFunc) {
	if event == "" {
		return f.SubscribeAll()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return closedFeed()
	}
	sub := f.newSubscription()
	f.byEvent[event] = append(f.byEvent[event], sub)
	return sub.queue.Out(), func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.queue.Discard()
		if rest := without(f.byEvent[event], sub); len(rest) > 0 {
			f.byEvent[event] = rest
		} else {
			delete(f.byEvent, event)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.all)
	for _, subs := range f.byRun {
		n += len(subs)
	}
	for _, subs := range f.byEvent {
		n += len(subs)
	}
	return n
}

func (f *Feed) newSubscription() *feedSubscription {
	sub := &feedSubscription{id: f.nextID, queue: buffer.New[Entry](f.limit)}
	f.nextID++
	return sub
}

func without(subs []*feedSubscription, sub *feedSubscription) []*feedSubscription {
	for i, s := range subs {
		if s.id == sub.id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

func closedFeed() (<-chan Entry, UnsubscribeFunc) {
	ch := make(chan Entry)
	close(ch)
	return ch, func() {}
}

// emit hands e to every matching subscriber. It never blocks.
func (f *Feed) emit(e Entry) {
	e.Time = f.clock.Now().UTC()

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	for _, sub := range f.all {
		sub.queue.Push(e)
	}
	for _, sub := range f.byRun[e.RunID] {
		sub.queue.Push(e)
	}
	for _, sub := range f.byEvent[e.Event] {
		sub.queue.Push(e)
	}
}

// Close ends every subscription. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.all {
		sub.queue.Close()
	}
	for _, subs := range f.byRun {
		for _, sub := range subs {
			sub.queue.Close()
		}
	}
	for _, subs := range f.byEvent {
		for _, sub := range subs {
			sub.queue.Close()
		}
	}
}

// -----------------------------------------------------------------------------
// Subscriber interfaces
// -----------------------------------------------------------------------------

func (f *Feed) OnDispatchStarted(e *relay.DispatchStartedEvent) {
	f.emit(Entry{
		Kind:    KindDispatchStarted,
		Event:   e.Event,
		RunID:   e.RunID,
		Role:    e.Role,
		HookIDs: e.HookIDs,
		OK:      true,
		Allow:   true,
	})
}

func (f *Feed) OnHookCompleted(e *relay.HookCompletedEvent) {
	f.emit(Entry{
		Kind:        KindHookCompleted,
		Event:       e.Event,
		RunID:       e.RunID,
		HookID:      e.HookID,
		OK:          e.Result.OK,
		Allow:       e.Result.Allow,
		BlockReason: e.Result.BlockReason,
		ErrorCode:   e.Result.ErrorCode,
		DurationMs:  e.Duration.Milliseconds(),
	})
}

func (f *Feed) OnHookSkipped(e *relay.HookSkippedEvent) {
	f.emit(Entry{
		Kind:   KindHookSkipped,
		Event:  e.Event,
		RunID:  e.RunID,
		HookID: e.HookID,
		OK:     true,
		Allow:  true,
		Reason: e.Reason,
	})
}

func (f *Feed) OnDispatchCompleted(e *relay.DispatchCompletedEvent) {
	f.emit(Entry{
		Kind:        KindDispatchCompleted,
		Event:       e.Event,
		RunID:       e.RunID,
		Role:        e.Role,
		HookIDs:     e.Result.Executed,
		OK:          e.Result.OK,
		Allow:       e.Result.Allow,
		BlockReason: e.Result.BlockReason,
		ErrorCode:   e.Result.ErrorCode,
		DurationMs:  e.Result.Duration.Milliseconds(),
	})
}

var (
	_ relay.DispatchStartedSubscriber   = (*Feed)(nil)
	_ relay.HookCompletedSubscriber     = (*Feed)(nil)
	_ relay.HookSkippedSubscriber       = (*Feed)(nil)
	_ relay.DispatchCompletedSubscriber = (*Feed)(nil)
)
