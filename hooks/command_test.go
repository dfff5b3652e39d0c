//go:build unix

package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/tt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandHandler_Handle(t *testing.T) {
	type input struct {
		command string
		payload relay.HookPayload
	}

	type expected struct {
		ok          bool
		allow       bool
		blockReason string
		errorCode   string
		notes       []string
		mutations   map[string]any
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name: "empty stdout allows",
			input: input{
				command: "true",
				payload: tt.ToolPayload(relay.RoleLeader, "bash", "ls"),
			},
			expected: expected{ok: true, allow: true},
		},
		{
			name: "json result with defaults",
			input: input{
				command: `echo '{"notes": ["seen"], "mutations": {"tool_input.command": "ls -la"}}'`,
				payload: tt.ToolPayload(relay.RoleLeader, "bash", "ls"),
			},
			expected: expected{
				ok:        true,
				allow:     true,
				notes:     []string{"seen"},
				mutations: map[string]any{"tool_input.command": "ls -la"},
			},
		},
		{
			name: "reads payload from stdin",
			input: input{
				command: `grep -q '"command":"rm -rf /"' && echo '{"allow": false, "block_reason": "saw rm"}' || true`,
				payload: tt.ToolPayload(relay.RoleLeader, "bash", "rm -rf /"),
			},
			expected: expected{ok: true, allow: false, blockReason: "saw rm"},
		},
		{
			name: "non-zero exit on blockable event denies",
			input: input{
				command: "echo 'not on my watch' >&2; exit 2",
				payload: tt.ToolPayload(relay.RoleLeader, "bash", "ls"),
			},
			expected: expected{ok: true, allow: false, blockReason: "not on my watch"},
		},
		{
			name: "non-zero exit on observer event fails",
			input: input{
				command: "echo boom >&2; exit 1",
				payload: tt.Payload(relay.EventSessionStart, relay.RoleLeader, nil),
			},
			expected: expected{ok: false, allow: true, errorCode: relay.ErrCodeCommandFailed},
		},
		{
			name: "invalid json output",
			input: input{
				command: "echo 'this is not json'",
				payload: tt.Payload(relay.EventSessionStart, relay.RoleLeader, nil),
			},
			expected: expected{ok: false, allow: true, errorCode: relay.ErrCodeInvalidOutput},
		},
		{
			name: "ok false without code gets command_failed",
			input: input{
				command: `echo '{"ok": false, "error_message": "lint failed"}'`,
				payload: tt.Payload(relay.EventPostToolUse, relay.RoleLeader, nil),
			},
			expected: expected{ok: false, allow: true, errorCode: relay.ErrCodeCommandFailed},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewCommandHandler(tc.input.command)

			res, err := h.Handle(context.Background(), tc.input.payload)
			require.NoError(t, err)

			assert.Equal(t, tc.expected.ok, res.OK)
			assert.Equal(t, tc.expected.allow, res.Allow)
			assert.Equal(t, tc.expected.blockReason, res.BlockReason)
			assert.Equal(t, tc.expected.errorCode, res.ErrorCode)
			assert.Equal(t, tc.expected.notes, res.Notes)
			assert.Equal(t, tc.expected.mutations, res.Mutations)
		})
	}
}

func TestCommandHandler_TimeoutKillsProcess(t *testing.T) {
	h := NewCommandHandler("sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := h.Handle(ctx, tt.Payload(relay.EventSessionStart, relay.RoleLeader, nil))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, relay.ErrCodeTimeout, res.ErrorCode)
}

func TestCommandHandler_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	h := NewCommandHandler(`printf '{"notes": ["%s", "%s"]}' "$(pwd)" "$RELAY_HOOK_TEST"`).
		WithDir(dir).
		WithEnv("RELAY_HOOK_TEST=yes")

	res, err := h.Handle(context.Background(), tt.Payload(relay.EventHealthCheck, relay.RoleLeader, nil))
	require.NoError(t, err)
	require.Len(t, res.Notes, 2)
	assert.Contains(t, res.Notes[0], dir[len(dir)-8:])
	assert.Equal(t, "yes", res.Notes[1])
}
