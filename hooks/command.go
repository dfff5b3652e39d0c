package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rickchristie/relay"
)

// maxReasonLen bounds stderr text copied into a block reason or error message.
const maxReasonLen = 512

// CommandHandler runs a shell command as a hook.
//
// # Protocol
//
// The payload is written to stdin as JSON. The command may print a JSON
// HookResult on stdout; missing "ok" and "allow" fields default to true, and
// empty stdout means "allowed, nothing to add".
//
// A non-zero exit status denies the event when it is blockable, and is
// reported as a command_failed error otherwise. Stderr becomes the reason.
//
// # Timeouts
//
// The command runs in its own process group. When ctx is done the whole group
// is killed, so unlike handler hooks a command never outlives its timeout.
type CommandHandler struct {
	command string
	dir     string
	env     []string
}

// NewCommandHandler creates a handler running command through sh -c.
func NewCommandHandler(command string) *CommandHandler {
	return &CommandHandler{command: command}
}

// WithDir sets the working directory.
func (c *CommandHandler) WithDir(dir string) *CommandHandler {
	c.dir = dir
	return c
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func (c *CommandHandler) WithEnv(env ...string) *CommandHandler {
	c.env = append(c.env, env...)
	return c
}

// Command returns the shell command line.
func (c *CommandHandler) Command() string {
	return c.command
}

// commandOutput mirrors relay.HookResult with optional booleans.
type commandOutput struct {
	OK            *bool           `json:"ok"`
	Allow         *bool           `json:"allow"`
	BlockReason   string          `json:"block_reason"`
	Mutations     map[string]any  `json:"mutations"`
	Notes         []string        `json:"notes"`
	UIEvents      []relay.UIEvent `json:"ui_events"`
	InjectContext string          `json:"inject_context"`
	ErrorCode     string          `json:"error_code"`
	ErrorMessage  string          `json:"error_message"`
}

func (o commandOutput) result() relay.HookResult {
	res := relay.HookResult{
		OK:            o.OK == nil || *o.OK,
		Allow:         o.Allow == nil || *o.Allow,
		BlockReason:   o.BlockReason,
		Mutations:     o.Mutations,
		Notes:         o.Notes,
		UIEvents:      o.UIEvents,
		InjectContext: o.InjectContext,
		ErrorCode:     o.ErrorCode,
		ErrorMessage:  o.ErrorMessage,
	}
	if !res.OK && res.ErrorCode == "" {
		res.ErrorCode = relay.ErrCodeCommandFailed
	}
	return res
}

// Handle runs the command for one payload.
func (c *CommandHandler) Handle(ctx context.Context, payload relay.HookPayload) (relay.HookResult, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return relay.HookResult{}, fmt.Errorf("marshal hook payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	setProcGroup(cmd)
	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return relay.Failed(relay.ErrCodeTimeout, "hook command timed out"), nil
		}
		return relay.Failed(relay.ErrCodeCommandFailed, "hook command cancelled"), nil
	}

	var out commandOutput
	if raw := bytes.TrimSpace(stdout.Bytes()); len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return relay.Failed(
				relay.ErrCodeInvalidOutput,
				fmt.Sprintf("hook command printed invalid JSON: %v", err),
			), nil
		}
	}
	res := out.result()

	if runErr != nil {
		reason := truncate(strings.TrimSpace(stderr.String()), maxReasonLen)
		if reason == "" {
			reason = fmt.Sprintf("hook command exited with error: %v", runErr)
		}
		if payload.Event.IsBlockable() {
			res.Allow = false
			if res.BlockReason == "" {
				res.BlockReason = reason
			}
			return res, nil
		}
		res.OK = false
		res.ErrorCode = relay.ErrCodeCommandFailed
		if res.ErrorMessage == "" {
			res.ErrorMessage = reason
		}
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ relay.Handler = (*CommandHandler)(nil)
