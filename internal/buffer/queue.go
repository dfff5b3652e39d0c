// Package buffer decouples fast producers from slow consumers.
package buffer

import (
	"sync"
)

// Queue hands items from producers to one consumer channel without ever
// blocking the producer.
//
// With a positive limit the queue holds at most limit undelivered items and
// discards the oldest one to make room; Dropped counts those. A limit of zero
// or less never discards.
//
//	q := buffer.New[audit.Record](1024)
//	go func() {
//	    for rec := range q.Out() {
//	        sink.Write(ctx, rec)
//	    }
//	}()
//	q.Push(rec) // never blocks
//	q.Close()   // Out closes once the backlog is delivered
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	limit   int
	dropped int64
	closed  bool
	out     chan T
	done    chan struct{}
}

// New creates a queue and starts its delivery goroutine.
func New[T any](limit int) *Queue[T] {
	q := &Queue[T]{
		items: make([]T, 0, 64),
		limit: limit,
		out:   make(chan T, 1),
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.deliver()
	return q
}

func (q *Queue[T]) deliver() {
	for {
		item, ok := q.next()
		if !ok {
			close(q.out)
			return
		}
		select {
		case q.out <- item:
		case <-q.done:
			close(q.out)
			return
		}
	}
}

// next blocks until an item is queued or the queue is closed and empty.
func (q *Queue[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Push queues item. It reports false, discarding item, once the queue is
// closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Out is the delivery channel. It closes after Close once every queued item
// has been received.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops accepting items. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Signal()
}

// Discard closes the queue and drops the backlog, for consumers that stop
// reading. Items already handed to Out may still arrive before it closes.
func (q *Queue[T]) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
}

// Pending returns the number of queued, undelivered items. One more may be
// waiting in the Out channel.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items the limit has discarded.
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
