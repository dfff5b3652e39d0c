package hooks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rickchristie/relay"
)

// HandlerTable maps stable string keys to handlers.
//
// Fill it once at start-up, before the registry loads:
//
//	table := hooks.NewHandlerTable().
//	    Register("builtin.command_guard", builtin.CommandGuard()).
//	    Register("myapp.audit", auditHandler)
//
// The table is safe for concurrent use, but a registry only consults it while
// loading; handlers registered later are picked up on the next Reload.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]relay.Handler
}

// NewHandlerTable creates an empty table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]relay.Handler)}
}

// Register binds key to h, replacing any earlier binding. Panics on an empty
// key or nil handler; both are programming errors.
func (t *HandlerTable) Register(key string, h relay.Handler) *HandlerTable {
	if key == "" {
		panic("hooks: Register called with empty key")
	}
	if h == nil {
		panic(fmt.Sprintf("hooks: Register(%q) called with nil handler", key))
	}
	t.mu.Lock()
	t.handlers[key] = h
	t.mu.Unlock()
	return t
}

// Lookup returns the handler bound to key.
func (t *HandlerTable) Lookup(key string) (relay.Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[key]
	return h, ok
}

// Keys returns all registered keys, sorted.
func (t *HandlerTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered handlers.
func (t *HandlerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}
