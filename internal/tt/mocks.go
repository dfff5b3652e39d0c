package tt

import (
	"context"
	"sync"
	"time"

	"github.com/rickchristie/relay"
	"github.com/tmc/langchaingo/llms"
)

// -----------------------------------------------------------------------------
// Recorder - shared execution trace across handlers
// -----------------------------------------------------------------------------

// Recorder collects the order in which recording handlers ran and the payload
// each one saw. One Recorder is shared by all handlers in a test.
type Recorder struct {
	mu       sync.Mutex
	trace    []string
	payloads map[string]relay.HookPayload
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{payloads: make(map[string]relay.HookPayload)}
}

// Trace returns handler names in the order they ran.
func (r *Recorder) Trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.trace))
	copy(out, r.trace)
	return out
}

// Seen returns the payload the named handler received last.
func (r *Recorder) Seen(name string) (relay.HookPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payloads[name]
	return p, ok
}

func (r *Recorder) record(name string, p relay.HookPayload) {
	r.mu.Lock()
	r.trace = append(r.trace, name)
	r.payloads[name] = p.Clone()
	r.mu.Unlock()
}

// Handler returns a handler that records name and returns result.
func (r *Recorder) Handler(name string, result relay.HookResult) relay.Handler {
	return relay.HandlerFunc(func(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
		r.record(name, p)
		return result, nil
	})
}

// Allow returns a recording handler that allows the event.
func (r *Recorder) Allow(name string) relay.Handler {
	return r.Handler(name, relay.Allowed())
}

// Func returns a recording handler that delegates to fn.
func (r *Recorder) Func(
	name string,
	fn func(ctx context.Context, p relay.HookPayload) (relay.HookResult, error),
) relay.Handler {
	return relay.HandlerFunc(func(ctx context.Context, p relay.HookPayload) (relay.HookResult, error) {
		r.record(name, p)
		return fn(ctx, p)
	})
}

// -----------------------------------------------------------------------------
// Blocking handlers
// -----------------------------------------------------------------------------

// SlowHandler ignores its context and sleeps for d before allowing. Release
// closes when the sleep ends, so tests can wait for abandoned handlers.
type SlowHandler struct {
	d        time.Duration
	Finished chan struct{}
	once     sync.Once
}

// NewSlowHandler creates a SlowHandler sleeping for d.
func NewSlowHandler(d time.Duration) *SlowHandler {
	return &SlowHandler{d: d, Finished: make(chan struct{})}
}

// Handle implements relay.Handler.
func (s *SlowHandler) Handle(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
	time.Sleep(s.d)
	s.once.Do(func() { close(s.Finished) })
	return relay.Allowed().WithNote("slow handler finished"), nil
}

// PanicHandler panics with its value.
type PanicHandler struct {
	Value any
}

// Handle implements relay.Handler.
func (p PanicHandler) Handle(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
	panic(p.Value)
}

// -----------------------------------------------------------------------------
// MockModel - implements llms.Model
// -----------------------------------------------------------------------------

// MockModel is a configurable mock that implements llms.Model.
type MockModel struct {
	mu        sync.Mutex
	responses []string
	errors    []error
	callCount int

	// CapturedMessages stores the messages passed to each GenerateContent call.
	CapturedMessages [][]llms.MessageContent
}

// NewMockModel creates a MockModel that answers "ALLOW" unless told otherwise.
func NewMockModel() *MockModel {
	return &MockModel{}
}

// AddResponse queues a text response.
func (m *MockModel) AddResponse(content string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, content)
	m.errors = append(m.errors, nil)
	return m
}

// AddError queues an error for the next call.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, "")
	m.errors = append(m.errors, err)
	return m
}

// CallCount returns the number of times GenerateContent has been called.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GenerateContent implements llms.Model.
func (m *MockModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callCount
	m.callCount++
	m.CapturedMessages = append(m.CapturedMessages, messages)

	if idx < len(m.errors) && m.errors[idx] != nil {
		return nil, m.errors[idx]
	}
	content := "ALLOW"
	if idx < len(m.responses) {
		content = m.responses[idx]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}, nil
}

// Call implements llms.Model.
func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

var (
	_ relay.Handler = (*SlowHandler)(nil)
	_ relay.Handler = PanicHandler{}
	_ llms.Model    = (*MockModel)(nil)
)
