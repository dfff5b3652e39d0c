package gateway

import (
	"errors"
	"net/http"

	"github.com/rickchristie/relay/hooks"
)

// HookView is one registration as listed by GET /v1/hooks.
type HookView struct {
	hooks.Record
	Resolved     bool   `json:"resolved"`
	ResolveError string `json:"resolve_error,omitempty"`
}

// HooksResponse is the body of GET /v1/hooks.
type HooksResponse struct {
	Enabled    bool               `json:"enabled"`
	Path       string             `json:"path,omitempty"`
	Hooks      []HookView         `json:"hooks"`
	Unresolved []hooks.Unresolved `json:"unresolved"`
	Dropped    []hooks.Dropped    `json:"dropped"`
}

func (s *Server) handleListHooks(w http.ResponseWriter, _ *http.Request) {
	resp := HooksResponse{
		Enabled:    s.registry.Enabled(),
		Path:       s.registry.Path(),
		Hooks:      []HookView{},
		Unresolved: s.registry.Unresolved(),
		Dropped:    s.registry.Dropped(),
	}
	for _, h := range s.registry.Hooks() {
		resp.Hooks = append(resp.Hooks, HookView{
			Record:       hooks.RecordFromAction(h.HookAction),
			Resolved:     h.Resolved(),
			ResolveError: h.ResolveError,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddHook(w http.ResponseWriter, r *http.Request) {
	var rec hooks.Record
	if err := decodeBody(r, &rec); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	action, err := s.registry.Document().Action(rec)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.AddHook(action); err != nil {
		s.log.WithField("hook_id", action.ID).WithError(err).Error("failed to add hook")
		jsonError(w, err.Error(), hookStatus(err))
		return
	}
	s.log.WithField("hook_id", action.ID).Info("hook added")

	h, _ := s.registry.Hook(action.ID)
	writeJSON(w, http.StatusCreated, HookView{
		Record:       hooks.RecordFromAction(h.HookAction),
		Resolved:     h.Resolved(),
		ResolveError: h.ResolveError,
	})
}

func (s *Server) handleRemoveHook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.RemoveHook(id); err != nil {
		jsonError(w, err.Error(), hookStatus(err))
		return
	}
	s.log.WithField("hook_id", id).Info("hook removed")
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handleSetHookEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.registry.SetHookEnabled(id, enabled); err != nil {
			jsonError(w, err.Error(), hookStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

func (s *Server) handleReloadHooks(w http.ResponseWriter, _ *http.Request) {
	if err := s.registry.Reload(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hooks":      len(s.registry.Hooks()),
		"unresolved": s.registry.Unresolved(),
		"dropped":    s.registry.Dropped(),
	})
}

func hookStatus(err error) int {
	switch {
	case errors.Is(err, hooks.ErrHookNotFound):
		return http.StatusNotFound
	case errors.Is(err, hooks.ErrInvalidHook):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
