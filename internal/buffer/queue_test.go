package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](t *testing.T, q *Queue[T]) []T {
	t.Helper()
	var out []T
	timeout := time.After(2 * time.Second)
	for {
		select {
		case item, ok := <-q.Out():
			if !ok {
				return out
			}
			out = append(out, item)
		case <-timeout:
			t.Fatal("queue never closed")
			return nil
		}
	}
}

func TestQueue_DeliversInOrder(t *testing.T) {
	type input struct {
		items []string
	}
	type expected struct {
		received []string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{name: "empty", input: input{}, expected: expected{}},
		{name: "single", input: input{items: []string{"a"}}, expected: expected{received: []string{"a"}}},
		{
			name:     "many",
			input:    input{items: []string{"a", "b", "c", "d"}},
			expected: expected{received: []string{"a", "b", "c", "d"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := New[string](0)
			for _, item := range tc.input.items {
				require.True(t, q.Push(item))
			}
			q.Close()
			assert.Equal(t, tc.expected.received, drain(t, q))
		})
	}
}

func TestQueue_PushNeverBlocksWithoutConsumer(t *testing.T) {
	q := New[int](0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked")
	}
	q.Close()
	assert.Len(t, drain(t, q), 10000)
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := New[int](3)
	// Nobody reads until Close, so most of these overflow the limit.
	for i := 0; i < 20; i++ {
		q.Push(i)
	}
	q.Close()

	got := drain(t, q)
	require.NotEmpty(t, got)
	assert.Equal(t, 19, got[len(got)-1], "newest item always survives")
	assert.Equal(t, int64(20-len(got)), q.Dropped())
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int](0)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	q.Close()
	assert.Len(t, drain(t, q), 800)
}

func TestQueue_Close(t *testing.T) {
	q := New[int](0)
	q.Close()
	q.Close()

	assert.False(t, q.Push(1))
	assert.Empty(t, drain(t, q))
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_DiscardUnblocksDelivery(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	require.Eventually(t, func() bool { return q.Pending() < 100 }, time.Second, time.Millisecond)

	q.Discard()
	q.Discard()
	assert.Equal(t, 0, q.Pending())
	assert.False(t, q.Push(1))

	got := drain(t, q)
	assert.LessOrEqual(t, len(got), 2)
}
