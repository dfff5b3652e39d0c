package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
)

// InboxLimit caps how many messages inbox_context lists.
const InboxLimit = 10

// MaxTodoBytes caps how much of the todo file todo_context injects.
const MaxTodoBytes = 8 * 1024

// -----------------------------------------------------------------------------
// inbox_context
// -----------------------------------------------------------------------------

// InboxContext injects the agent's pending messages as context. It reads the
// bus and writes nothing, so it declares no effects.
type InboxContext struct {
	Bus   *bus.Service
	Clock relay.TimeProvider
}

func (h *InboxContext) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	agent := agentID(p)
	msgs, err := h.Bus.ListForAgent(agent, false, InboxLimit)
	if err != nil {
		return relay.HookResult{}, fmt.Errorf("listing inbox for %s: %w", agent, err)
	}
	if len(msgs) == 0 {
		return relay.Allowed(), nil
	}

	clock := h.Clock
	if clock == nil {
		clock = relay.NewDefaultTimeProvider()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending messages for %s:\n", agent)
	for _, m := range msgs {
		fmt.Fprintf(&b, "- [%s] %s (from %s, %s, id %s)\n",
			m.Priority, m.Subject, m.FromAgent, relay.FormatAge(clock.Since(m.CreatedAt)), m.ID)
	}
	return relay.Allowed().
		WithContext(strings.TrimRight(b.String(), "\n")).
		WithNote(fmt.Sprintf("%d pending message(s) for %s", len(msgs), agent)), nil
}

// -----------------------------------------------------------------------------
// todo_context
// -----------------------------------------------------------------------------

// TodoContext injects the harness todo file as context. A missing or empty
// file injects nothing.
type TodoContext struct {
	// Path is used when the payload has no harness todo path.
	Path string
}

func (h *TodoContext) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	path := p.Harness.TodoPath
	if path == "" {
		path = h.Path
	}
	if path == "" {
		return relay.Allowed(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return relay.Allowed(), nil
	}
	if err != nil {
		return relay.HookResult{}, fmt.Errorf("reading todo file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return relay.Allowed(), nil
	}
	result := relay.Allowed()
	if len(text) > MaxTodoBytes {
		text = text[:MaxTodoBytes]
		result = result.WithNote("todo file truncated")
	}
	return result.WithContext("Current todo list:\n" + text), nil
}

var (
	_ relay.Handler = (*InboxContext)(nil)
	_ relay.Handler = (*TodoContext)(nil)
)
