package tt

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/rickchristie/relay"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertPayloadUnchanged checks that got serializes to exactly the same bytes
// as want.
func AssertPayloadUnchanged(t *testing.T, want, got relay.HookPayload) {
	t.Helper()
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, string(wantJSON), string(gotJSON), "payload changed")
}

// Logger returns a logrus entry that discards output.
func Logger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// CapturingLogger returns a logrus entry whose records can be inspected.
func CapturingLogger() (*logrus.Entry, *LogCapture) {
	capture := &LogCapture{}
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.AddHook(capture)
	return logrus.NewEntry(l), capture
}

// LogCapture is a logrus hook recording every entry.
type LogCapture struct {
	mu      sync.Mutex
	entries []logrus.Entry
}

// Levels implements logrus.Hook.
func (c *LogCapture) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (c *LogCapture) Fire(e *logrus.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *e)
	return nil
}

// Messages returns logged messages at level.
func (c *LogCapture) Messages(level logrus.Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}
