package relay

import (
	"fmt"
	"sync"
	"time"
)

// TimeProvider supplies the current time. The message bus, executor and
// observers take one so tests can pin and advance the clock.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t, never negative.
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider is the standard TimeProvider using the system clock.
type DefaultTimeProvider struct{}

// NewDefaultTimeProvider creates a new DefaultTimeProvider.
func NewDefaultTimeProvider() *DefaultTimeProvider {
	return &DefaultTimeProvider{}
}

// Now returns the current system time in UTC.
func (p *DefaultTimeProvider) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (p *DefaultTimeProvider) Since(t time.Time) time.Duration {
	return elapsed(p.Now(), t)
}

func elapsed(now, t time.Time) time.Duration {
	if d := now.Sub(t); d > 0 {
		return d
	}
	return 0
}

// FormatAge renders d the way inbox listings show message age: "just now"
// under a minute, then whole minutes, hours or days.
//
//	FormatAge(90 * time.Second) // "1m ago"
//	FormatAge(26 * time.Hour)   // "1d ago"
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

// MockTimeProvider is a TimeProvider that returns a fixed time.
// Safe for concurrent use.
type MockTimeProvider struct {
	mu        sync.Mutex
	fixedTime time.Time
}

// NewMockTimeProvider creates a MockTimeProvider with the given fixed time.
func NewMockTimeProvider(t time.Time) *MockTimeProvider {
	return &MockTimeProvider{fixedTime: t}
}

// SetTime updates the fixed time returned by Now().
func (m *MockTimeProvider) SetTime(t time.Time) {
	m.mu.Lock()
	m.fixedTime = t
	m.mu.Unlock()
}

// Advance moves the fixed time forward by d.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.fixedTime = m.fixedTime.Add(d)
	m.mu.Unlock()
}

// Now returns the fixed time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixedTime
}

// Since returns the time elapsed between t and the fixed time.
func (m *MockTimeProvider) Since(t time.Time) time.Duration {
	return elapsed(m.Now(), t)
}

var (
	_ TimeProvider = (*DefaultTimeProvider)(nil)
	_ TimeProvider = (*MockTimeProvider)(nil)
)
