package tt

import (
	"sync"

	"github.com/rickchristie/relay"
)

// -----------------------------------------------------------------------------
// Payload builders
// -----------------------------------------------------------------------------

// Payload builds a payload with a fixed run id and session.
func Payload(event relay.HookEvent, role relay.Role, data map[string]any) relay.HookPayload {
	p := relay.NewPayload(event, role, data)
	p.RunID = "run-test"
	p.AgentRunID = "agent-run-test"
	p.Session = relay.SessionInfo{
		SessionID:   "session-1",
		ThreadID:    "thread-1",
		Backend:     "test",
		ProjectRoot: "/tmp/project",
	}
	return p
}

// ToolPayload builds a pre_tool_use payload for a shell command.
func ToolPayload(role relay.Role, toolName, command string) relay.HookPayload {
	return Payload(relay.EventPreToolUse, role, map[string]any{
		"tool_name":  toolName,
		"tool_input": map[string]any{"command": command},
	})
}

// PromptPayload builds a prompt_submit payload.
func PromptPayload(role relay.Role, prompt string) relay.HookPayload {
	return Payload(relay.EventPromptSubmit, role, map[string]any{"prompt": prompt})
}

// -----------------------------------------------------------------------------
// Observer collection
// -----------------------------------------------------------------------------

// Collector subscribes to every observer event and keeps them in order.
type Collector struct {
	mu     sync.Mutex
	events []relay.ObserverEvent
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Events returns the collected events in publish order.
func (c *Collector) Events() []relay.ObserverEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]relay.ObserverEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Completed returns the DispatchCompletedEvents collected so far.
func (c *Collector) Completed() []*relay.DispatchCompletedEvent {
	var out []*relay.DispatchCompletedEvent
	for _, e := range c.Events() {
		if done, ok := e.(*relay.DispatchCompletedEvent); ok {
			out = append(out, done)
		}
	}
	return out
}

func (c *Collector) add(e relay.ObserverEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *Collector) OnDispatchStarted(e *relay.DispatchStartedEvent)     { c.add(e) }
func (c *Collector) OnDispatchCompleted(e *relay.DispatchCompletedEvent) { c.add(e) }
func (c *Collector) OnHookCompleted(e *relay.HookCompletedEvent)         { c.add(e) }
func (c *Collector) OnHookSkipped(e *relay.HookSkippedEvent)             { c.add(e) }

var (
	_ relay.DispatchStartedSubscriber   = (*Collector)(nil)
	_ relay.DispatchCompletedSubscriber = (*Collector)(nil)
	_ relay.HookCompletedSubscriber     = (*Collector)(nil)
	_ relay.HookSkippedSubscriber       = (*Collector)(nil)
)
