package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTimeProvider_Now(t *testing.T) {
	tp := NewDefaultTimeProvider()

	before := time.Now()
	result := tp.Now()
	after := time.Now()

	assert.False(t, result.Before(before) || result.After(after), "Now() outside expected range")
	assert.Equal(t, time.UTC, result.Location())
	assert.Zero(t, tp.Since(after.Add(time.Hour)), "future times are not negative")
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{input: 0, expected: "just now"},
		{input: 59 * time.Second, expected: "just now"},
		{input: 90 * time.Second, expected: "1m ago"},
		{input: 59 * time.Minute, expected: "59m ago"},
		{input: 3*time.Hour + 10*time.Minute, expected: "3h ago"},
		{input: 26 * time.Hour, expected: "1d ago"},
		{input: 10 * 24 * time.Hour, expected: "10d ago"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatAge(tc.input))
		})
	}
}

func TestMockTimeProvider(t *testing.T) {
	fixedTime := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	tp := NewMockTimeProvider(fixedTime)
	assert.True(t, tp.Now().Equal(fixedTime))

	tp.Advance(48 * time.Hour)
	assert.True(t, tp.Now().Equal(fixedTime.Add(48*time.Hour)))
	assert.Equal(t, 48*time.Hour, tp.Since(fixedTime))
	assert.Zero(t, tp.Since(fixedTime.Add(72*time.Hour)))

	newTime := time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)
	tp.SetTime(newTime)
	assert.True(t, tp.Now().Equal(newTime))
}

func TestMockTimeProvider_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tp := NewMockTimeProvider(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tp.Advance(time.Second)
			_ = tp.Now()
		}()
	}
	wg.Wait()

	assert.True(t, tp.Now().Equal(start.Add(50*time.Second)))
}
