package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
	"github.com/rickchristie/relay/internal/atomicfile"
)

// LeaderAgent is the recipient of session notices.
const LeaderAgent = "leader"

// -----------------------------------------------------------------------------
// session_notice
// -----------------------------------------------------------------------------

// SessionNotice sends the leader a bus message when a session ends. Writing
// to the bus is a mutating effect, so workers never run it.
type SessionNotice struct {
	Bus *bus.Service
}

func (h *SessionNotice) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	session := p.Session.SessionID
	if session == "" {
		session = p.RunID
	}
	body := p.DataString("summary")
	if body == "" {
		body = p.DataString("reason")
	}

	id, err := h.Bus.Send(bus.SendRequest{
		From:    agentID(p),
		To:      LeaderAgent,
		Subject: "session ended: " + session,
		Body:    body,
		Metadata: map[string]any{
			"session_id": p.Session.SessionID,
			"run_id":     p.RunID,
		},
	})
	if err != nil {
		return relay.HookResult{}, fmt.Errorf("sending session notice: %w", err)
	}
	return relay.Allowed().WithNote("notified leader: message " + id), nil
}

// -----------------------------------------------------------------------------
// checkpoint_todo
// -----------------------------------------------------------------------------

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CheckpointTodo copies the todo file into <harness dir>/checkpoints/ on
// checkpoint_save.
type CheckpointTodo struct {
	HarnessDir string
	TodoPath   string
	Clock      relay.TimeProvider
}

func (h *CheckpointTodo) Handle(_ context.Context, p relay.HookPayload) (relay.HookResult, error) {
	todo := p.Harness.TodoPath
	if todo == "" {
		todo = h.TodoPath
	}
	dir := p.Harness.Dir
	if dir == "" {
		dir = h.HarnessDir
	}
	if todo == "" || dir == "" {
		return relay.Allowed().WithNote("checkpoint_todo: no harness paths"), nil
	}

	data, err := os.ReadFile(todo)
	if errors.Is(err, os.ErrNotExist) {
		return relay.Allowed().WithNote("checkpoint_todo: no todo file"), nil
	}
	if err != nil {
		return relay.HookResult{}, fmt.Errorf("reading todo file: %w", err)
	}

	name := unsafeName.ReplaceAllString(p.DataString("checkpoint_id"), "_")
	if name == "" || name == "." || name == ".." {
		name = h.Clock.Now().UTC().Format("20060102T150405Z")
	}
	dest := filepath.Join(dir, "checkpoints", name+"-todo.md")
	if err := atomicfile.WriteFile(dest, data, 0o644); err != nil {
		return relay.HookResult{}, fmt.Errorf("writing checkpoint: %w", err)
	}
	return relay.Allowed().WithNote("todo checkpointed to " + dest), nil
}

// -----------------------------------------------------------------------------
// health
// -----------------------------------------------------------------------------

// Health answers health_check.
type Health struct {
	Clock relay.TimeProvider
}

func (h *Health) Handle(_ context.Context, _ relay.HookPayload) (relay.HookResult, error) {
	return relay.Allowed().WithNote("relay ok at " + h.Clock.Now().UTC().Format("2006-01-02T15:04:05Z")), nil
}

var (
	_ relay.Handler = (*SessionNotice)(nil)
	_ relay.Handler = (*CheckpointTodo)(nil)
	_ relay.Handler = (*Health)(nil)
)
