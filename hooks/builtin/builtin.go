// Package builtin provides the handlers relay ships with.
//
// Register adds them to a [hooks.HandlerTable] under the "builtin." prefix.
// A hook document enables one by naming it as a handler target:
//
//	{"id": "guard", "event": "pre_tool_use", "type": "handler",
//	 "target": "builtin.command_guard", "effects": []}
//
// [Defaults] returns a document record for every handler with the effects
// it actually has, which is what `relay hooks init` writes.
package builtin

import (
	"io"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
	"github.com/rickchristie/relay/hooks"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

// Handler keys.
const (
	KeyInboxContext   = "builtin.inbox_context"
	KeyTodoContext    = "builtin.todo_context"
	KeyCommandGuard   = "builtin.command_guard"
	KeySecretRedact   = "builtin.secret_redact"
	KeyPromptReview   = "builtin.prompt_review"
	KeySessionNotice  = "builtin.session_notice"
	KeyCheckpointTodo = "builtin.checkpoint_todo"
	KeyHealth         = "builtin.health"
)

// Deps are the collaborators the built-in handlers use. Handlers whose
// dependency is missing are not registered.
type Deps struct {
	// Bus backs inbox_context and session_notice.
	Bus *bus.Service

	// Model backs prompt_review.
	Model llms.Model

	// HarnessDir and TodoPath are used when a payload does not carry its own
	// harness paths.
	HarnessDir string
	TodoPath   string

	Clock relay.TimeProvider
	Log   *logrus.Entry
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = relay.NewDefaultTimeProvider()
	}
	if d.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		d.Log = logrus.NewEntry(l)
	}
	return d
}

// Register adds every handler deps can support to table and returns the keys
// it registered.
func Register(table *hooks.HandlerTable, deps Deps) []string {
	deps = deps.withDefaults()

	var keys []string
	add := func(key string, h relay.Handler) {
		table.Register(key, h)
		keys = append(keys, key)
	}

	add(KeyTodoContext, &TodoContext{Path: deps.TodoPath})
	add(KeyCommandGuard, NewCommandGuard())
	add(KeySecretRedact, NewSecretRedactor())
	add(KeyCheckpointTodo, &CheckpointTodo{
		HarnessDir: deps.HarnessDir,
		TodoPath:   deps.TodoPath,
		Clock:      deps.Clock,
	})
	add(KeyHealth, &Health{Clock: deps.Clock})

	if deps.Bus != nil {
		add(KeyInboxContext, &InboxContext{Bus: deps.Bus, Clock: deps.Clock})
		add(KeySessionNotice, &SessionNotice{Bus: deps.Bus})
	} else {
		deps.Log.Debug("message bus not configured, skipping inbox_context and session_notice")
	}
	if deps.Model != nil {
		add(KeyPromptReview, &PromptReview{Model: deps.Model, Log: deps.Log})
	} else {
		deps.Log.Debug("model not configured, skipping prompt_review")
	}
	return keys
}

// Defaults returns one hook record per built-in handler. prompt_review is
// included disabled since it needs a model.
func Defaults() []hooks.Record {
	rec := func(id string, event relay.HookEvent, target string, priority int, effects ...relay.Effect) hooks.Record {
		p := priority
		if effects == nil {
			effects = relay.Effects{}
		}
		return hooks.Record{
			ID:       id,
			Event:    string(event),
			Type:     string(relay.HookTypeHandler),
			Target:   target,
			Priority: &p,
			Effects:  relay.Effects(effects),
		}
	}

	guard := rec("command-guard", relay.EventPreToolUse, KeyCommandGuard, 10)
	guard.ToolNamePattern = `(?i)^(bash|shell)$`

	review := rec("prompt-review", relay.EventPromptSubmit, KeyPromptReview, 50, relay.EffectNetwork)
	disabled := false
	review.Enabled = &disabled

	return []hooks.Record{
		rec("inbox-context", relay.EventSessionStart, KeyInboxContext, 10),
		rec("todo-context", relay.EventSessionStart, KeyTodoContext, 20),
		guard,
		rec("secret-redact", relay.EventPromptSubmit, KeySecretRedact, 10),
		review,
		rec("session-notice", relay.EventSessionEnd, KeySessionNotice, 100, relay.EffectMessageBusWrite),
		rec("checkpoint-todo", relay.EventCheckpointSave, KeyCheckpointTodo, 100, relay.EffectCheckpointWrite),
		rec("health", relay.EventHealthCheck, KeyHealth, 100),
	}
}

// DefaultDocument returns a document holding [Defaults].
func DefaultDocument() hooks.Document {
	doc := hooks.NewDocument()
	doc.Hooks = Defaults()
	return doc
}

// agentID names the agent behind a payload: data.agent_id, then the agent run
// id, then the role.
func agentID(p relay.HookPayload) string {
	if id := p.DataString("agent_id"); id != "" {
		return id
	}
	if p.AgentRunID != "" {
		return p.AgentRunID
	}
	return string(p.AgentRole)
}
