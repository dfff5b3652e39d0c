package hooks

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/atomicfile"
	"github.com/sirupsen/logrus"
)

// ErrHookNotFound is returned by mutations naming an id the registry does not hold.
var ErrHookNotFound = errors.New("hook not found")

// Hook is a registration together with what the registry resolved for it.
//
// Handler is nil when resolution failed or the hook is disabled; ResolveError
// then says why. Values returned by the registry share Effects with the
// snapshot and must be treated as read-only.
type Hook struct {
	relay.HookAction

	Handler      relay.Handler
	ResolveError string

	toolPattern *regexp.Regexp
}

// Resolved reports whether the hook has something to run.
func (h Hook) Resolved() bool {
	return h.Handler != nil
}

// MatchesTool reports whether the hook applies to toolName. Hooks without a
// tool name pattern match everything.
func (h Hook) MatchesTool(toolName string) bool {
	if h.toolPattern == nil {
		return true
	}
	return h.toolPattern.MatchString(toolName)
}

// Unresolved describes an enabled hook whose target could not be resolved.
type Unresolved struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// Dropped describes a record rejected during load.
type Dropped struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// snapshot is an immutable view of one loaded document.
type snapshot struct {
	doc        Document
	hooks      []Hook
	byEvent    map[relay.HookEvent][]Hook
	unresolved []Unresolved
	dropped    []Dropped
}

// Registry holds hook registrations loaded from a configuration document.
//
// # Creating and Loading
//
//	registry := hooks.NewRegistry(table).
//	    WithLogger(logging.Component(logger, "hooks")).
//	    WithCommandDir(projectRoot)
//	if err := registry.Load(".relay/hooks.json"); err != nil {
//	    return err
//	}
//
// A missing file loads as an empty document; the first AddHook creates it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. See the package documentation for
// the snapshot model.
type Registry struct {
	table      *HandlerTable
	log        *logrus.Entry
	commandDir string

	mu   sync.Mutex
	path string
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry resolving targets against table.
// A nil table resolves nothing.
func NewRegistry(table *HandlerTable) *Registry {
	if table == nil {
		table = NewHandlerTable()
	}
	r := &Registry{
		table: table,
		log:   discardLogger(),
	}
	r.snap.Store(r.build(NewDocument()))
	return r
}

// WithLogger sets the logger used for load warnings.
func (r *Registry) WithLogger(log *logrus.Entry) *Registry {
	if log != nil {
		r.log = log
	}
	return r
}

// WithCommandDir sets the working directory of command hooks.
func (r *Registry) WithCommandDir(dir string) *Registry {
	r.commandDir = dir
	return r
}

// Path returns the document path of the last Load, empty if none.
func (r *Registry) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Load reads the document at path and replaces the registry's contents.
// On error the previous contents stay in place.
func (r *Registry) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(path)
}

// Reload re-reads the document from the last loaded path.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		return fmt.Errorf("reload: no document loaded")
	}
	return r.loadLocked(r.path)
}

// LoadDocument replaces the registry's contents with doc without touching
// disk. Mutations after LoadDocument persist only if a path was loaded
// earlier.
func (r *Registry) LoadDocument(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(r.build(doc.clone()))
}

func (r *Registry) loadLocked(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.log.WithField("path", path).Info("hook document not found, starting empty")
		data = nil
	} else if err != nil {
		return fmt.Errorf("reading hook document: %w", err)
	}

	doc, err := DecodeDocument(data, FormatForPath(path))
	if err != nil {
		return err
	}

	snap := r.build(doc)
	r.path = path
	r.snap.Store(snap)

	r.log.WithFields(logrus.Fields{
		"path":       path,
		"hooks":      len(snap.hooks),
		"dropped":    len(snap.dropped),
		"unresolved": len(snap.unresolved),
	}).Info("hook document loaded")
	return nil
}

// build validates and resolves doc into a snapshot. It never fails; bad
// records are dropped with a warning.
func (r *Registry) build(doc Document) *snapshot {
	snap := &snapshot{
		doc:     doc,
		byEvent: make(map[relay.HookEvent][]Hook),
	}

	position := make(map[string]int)
	for i, rec := range doc.Hooks {
		action, err := doc.Action(rec)
		if err != nil {
			snap.dropped = append(snap.dropped, Dropped{Index: i, ID: rec.ID, Reason: err.Error()})
			r.log.WithFields(logrus.Fields{"index": i, "id": rec.ID}).
				WithError(err).Warn("dropping hook record")
			continue
		}
		if err := action.Effects.Validate(); err != nil {
			r.log.WithField("hook_id", action.ID).WithError(err).
				Warn("hook effects invalid, workers will be refused")
		}

		hook := r.resolve(action)
		if pos, seen := position[action.ID]; seen {
			r.log.WithField("hook_id", action.ID).Warn("duplicate hook id, later record replaces earlier")
			snap.hooks[pos] = hook
			continue
		}
		position[action.ID] = len(snap.hooks)
		snap.hooks = append(snap.hooks, hook)
	}

	for _, h := range snap.hooks {
		if !h.Enabled {
			continue
		}
		if !h.Resolved() {
			snap.unresolved = append(snap.unresolved, Unresolved{
				ID:     h.ID,
				Target: h.Target,
				Reason: h.ResolveError,
			})
			r.log.WithFields(logrus.Fields{"hook_id": h.ID, "target": h.Target}).
				Warn("hook target not resolved")
		}
		snap.byEvent[h.Event] = append(snap.byEvent[h.Event], h)
	}
	for event := range snap.byEvent {
		list := snap.byEvent[event]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority < list[j].Priority
		})
	}
	return snap
}

func (r *Registry) resolve(action relay.HookAction) Hook {
	hook := Hook{HookAction: action}
	if action.ToolNamePattern != "" {
		// Already validated by Document.Action.
		hook.toolPattern = regexp.MustCompile(action.ToolNamePattern)
	}
	if !action.Enabled {
		hook.ResolveError = "disabled"
		return hook
	}

	switch action.Type {
	case relay.HookTypeCommand:
		hook.Handler = NewCommandHandler(action.Target).WithDir(r.commandDir)
	default:
		h, ok := r.table.Lookup(action.Target)
		if !ok {
			hook.ResolveError = fmt.Sprintf("no handler registered for %q", action.Target)
			return hook
		}
		hook.Handler = h
	}
	return hook
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Enabled reports the document-wide switch.
func (r *Registry) Enabled() bool {
	return r.snap.Load().doc.IsEnabled()
}

// HooksForEvent returns the enabled hooks for event, priority ascending, ties
// in configuration order. Returns nil when the document is disabled.
func (r *Registry) HooksForEvent(event relay.HookEvent) []Hook {
	snap := r.snap.Load()
	if !snap.doc.IsEnabled() {
		return nil
	}
	list := snap.byEvent[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]Hook, len(list))
	copy(out, list)
	return out
}

// Hooks returns every valid registration, enabled or not, in configuration order.
func (r *Registry) Hooks() []Hook {
	snap := r.snap.Load()
	out := make([]Hook, len(snap.hooks))
	copy(out, snap.hooks)
	return out
}

// Actions returns every valid registration in configuration order.
func (r *Registry) Actions() []relay.HookAction {
	snap := r.snap.Load()
	out := make([]relay.HookAction, len(snap.hooks))
	for i, h := range snap.hooks {
		out[i] = h.HookAction
		out[i].Effects = h.Effects.Clone()
	}
	return out
}

// Hook returns the registration with id.
func (r *Registry) Hook(id string) (Hook, bool) {
	for _, h := range r.snap.Load().hooks {
		if h.ID == id {
			return h, true
		}
	}
	return Hook{}, false
}

// Unresolved lists enabled hooks whose targets could not be resolved.
func (r *Registry) Unresolved() []Unresolved {
	snap := r.snap.Load()
	out := make([]Unresolved, len(snap.unresolved))
	copy(out, snap.unresolved)
	return out
}

// Dropped lists records rejected by the last load.
func (r *Registry) Dropped() []Dropped {
	snap := r.snap.Load()
	out := make([]Dropped, len(snap.dropped))
	copy(out, snap.dropped)
	return out
}

// Document returns a copy of the current document.
func (r *Registry) Document() Document {
	return r.snap.Load().doc.clone()
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// AddHook registers action, replacing any registration with the same id, and
// persists the document.
func (r *Registry) AddHook(action relay.HookAction) error {
	action.ID = strings.TrimSpace(action.ID)
	rec := RecordFromAction(action)

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.snap.Load().doc.clone()
	if _, err := doc.Action(rec); err != nil {
		return err
	}
	doc.upsert(rec)
	return r.commitLocked(doc)
}

// RemoveHook deletes the registration with id and persists the document.
func (r *Registry) RemoveHook(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.snap.Load().doc.clone()
	if !doc.remove(id) {
		return fmt.Errorf("%w: %q", ErrHookNotFound, id)
	}
	return r.commitLocked(doc)
}

// SetHookEnabled toggles the registration with id and persists the document.
func (r *Registry) SetHookEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.snap.Load().doc.clone()
	found := false
	for i := range doc.Hooks {
		if strings.TrimSpace(doc.Hooks[i].ID) == id {
			v := enabled
			doc.Hooks[i].Enabled = &v
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrHookNotFound, id)
	}
	return r.commitLocked(doc)
}

// commitLocked persists doc and swaps in its snapshot. Nothing changes in
// memory if the write fails.
func (r *Registry) commitLocked(doc Document) error {
	if r.path != "" {
		data, err := EncodeDocument(doc, FormatForPath(r.path))
		if err != nil {
			return err
		}
		if err := atomicfile.WriteFile(r.path, data, 0o644); err != nil {
			return fmt.Errorf("persisting hook document: %w", err)
		}
	}
	r.snap.Store(r.build(doc))
	return nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
