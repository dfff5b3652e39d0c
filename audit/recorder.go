package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/buffer"
	"github.com/sirupsen/logrus"
)

// DefaultQueueLimit bounds the records waiting for the sinks.
const DefaultQueueLimit = 4096

// Recorder turns completed dispatches into audit records.
type Recorder struct {
	sinks []Sink
	queue *buffer.Queue[Record]
	clock relay.TimeProvider
	log   *logrus.Entry

	mu      sync.Mutex
	written int64
	failed  int64
}

// NewRecorder creates a recorder writing to sinks. Nil sinks are ignored.
func NewRecorder(sinks ...Sink) *Recorder {
	l := logrus.New()
	l.SetOutput(io.Discard)
	r := &Recorder{
		queue: buffer.New[Record](DefaultQueueLimit),
		clock: relay.NewDefaultTimeProvider(),
		log:   logrus.NewEntry(l),
	}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// WithLogger sets the logger.
func (r *Recorder) WithLogger(log *logrus.Entry) *Recorder {
	if log != nil {
		r.log = log
	}
	return r
}

// WithTimeProvider sets the clock stamped into records.
func (r *Recorder) WithTimeProvider(tp relay.TimeProvider) *Recorder {
	if tp != nil {
		r.clock = tp
	}
	return r
}

// OnDispatchCompleted queues a record. It never blocks.
func (r *Recorder) OnDispatchCompleted(e *relay.DispatchCompletedEvent) {
	if len(r.sinks) == 0 {
		return
	}
	r.queue.Push(NewRecord(e, r.clock.Now()))
}

// Run writes queued records to every sink until Close is called and the
// backlog is written. Cancelling ctx closes the recorder; records still
// queued are written with a short grace period.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec, ok := <-r.queue.Out():
			if !ok {
				return nil
			}
			r.write(ctx, rec)
		case <-ctx.Done():
			r.queue.Close()
			grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for rec := range r.queue.Out() {
				r.write(grace, rec)
			}
			return nil
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	r.mu.Lock()
	if len(errs) > 0 {
		r.failed++
	} else {
		r.written++
	}
	r.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		r.log.WithFields(logrus.Fields{"run_id": rec.RunID, "event": rec.Event}).
			WithError(err).Warn("audit write failed")
	}
}

// Counts returns how many records were written to every sink, how many hit
// at least one sink error, and how many the queue dropped.
func (r *Recorder) Counts() (written, failed, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failed, r.queue.Dropped()
}

// Close stops accepting records. Run returns once the backlog is written.
// Sinks are not closed; their owner closes them.
func (r *Recorder) Close() {
	r.queue.Close()
}

var _ relay.DispatchCompletedSubscriber = (*Recorder)(nil)
