package hooks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rickchristie/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Check(t *testing.T) {
	path := writeDoc(t, "hooks.json", `{"hooks": [
		{"id": "a", "event": "pre_tool_use", "target": "h", "effects": []}
	]}`)
	r := NewRegistry(testTable("h"))
	require.NoError(t, r.Load(path))

	w := NewWatcher(r, time.Hour)
	assert.False(t, w.Check(), "nothing changed yet")

	require.NoError(t, os.WriteFile(path, []byte(`{"hooks": [
		{"id": "a", "event": "pre_tool_use", "target": "h", "effects": []},
		{"id": "b", "event": "pre_tool_use", "target": "h", "effects": []}
	]}`), 0o644))
	// Size differs, so the change is visible even on coarse mtime filesystems.
	assert.True(t, w.Check())
	assert.Equal(t, []string{"a", "b"}, hookIDs(r.HooksForEvent(relay.EventPreToolUse)))
	assert.False(t, w.Check())
}

func TestWatcher_BadDocumentKeepsRegistry(t *testing.T) {
	path := writeDoc(t, "hooks.json", `{"hooks": [
		{"id": "a", "event": "pre_tool_use", "target": "h", "effects": []}
	]}`)
	r := NewRegistry(testTable("h"))
	require.NoError(t, r.Load(path))
	w := NewWatcher(r, time.Hour)

	require.NoError(t, os.WriteFile(path, []byte(`{"hooks": `), 0o644))
	assert.False(t, w.Check())
	assert.Equal(t, []string{"a"}, hookIDs(r.HooksForEvent(relay.EventPreToolUse)))
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	path := writeDoc(t, "hooks.json", `{"hooks": []}`)
	r := NewRegistry(nil)
	require.NoError(t, r.Load(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWatcher(r, 10*time.Millisecond).Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(`{"hooks": [
		{"id": "a", "event": "health_check", "target": "x", "type": "command", "effects": []}
	]}`), 0o644))
	assert.Eventually(t, func() bool {
		return len(r.Actions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
