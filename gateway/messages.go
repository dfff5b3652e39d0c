package gateway

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rickchristie/relay/bus"
	"github.com/sirupsen/logrus"
)

// DefaultCleanupHours is used when cleanup has no older_than_hours.
const DefaultCleanupHours = 24

// maxCleanupHours is the largest older_than_hours a time.Duration can hold.
const maxCleanupHours = math.MaxInt64 / int64(time.Hour)

// CompleteRequest is the body of POST /v1/messages/{id}/complete. Success
// defaults to true.
type CompleteRequest struct {
	Success *bool  `json:"success,omitempty"`
	Result  string `json:"result,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req bus.SendRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.From == "" {
		c := callerFrom(r)
		req.From = c.AgentID
		if req.From == "" {
			req.From = string(c.Role)
		}
	}
	id, err := s.bus.Send(req)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := bus.ListFilter{
		Status:    bus.Status(q.Get("status")),
		ToAgent:   q.Get("to"),
		FromAgent: q.Get("from"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		jsonError(w, "unknown status "+string(filter.Status), http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		jsonError(w, "invalid limit", http.StatusBadRequest)
		return
	}
	filter.Limit = limit

	res, err := s.bus.List(filter)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBusStats(w http.ResponseWriter, _ *http.Request) {
	st, err := s.bus.Stats()
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.bus.Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.bus.Delete(id); err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	agent, ok := requireAgent(w, r)
	if !ok {
		return
	}
	m, err := s.bus.Claim(r.PathValue("id"), agent)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id, agent string) error {
		return s.bus.Ack(id, agent)
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id, agent string) error {
		return s.bus.Release(id, agent)
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	success := req.Success == nil || *req.Success
	s.transition(w, r, func(id, agent string) error {
		return s.bus.Complete(id, agent, success, req.Result)
	})
}

// transition runs fn for the caller and answers with the updated message.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(id, agent string) error) {
	agent, ok := requireAgent(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := fn(id, agent); err != nil {
		s.log.WithFields(logrus.Fields{"message_id": id, "agent": agent}).WithError(err).Debug("transition refused")
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	m, err := s.bus.Get(id)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("older_than_hours"), DefaultCleanupHours)
	if err != nil || hours < 0 || int64(hours) > maxCleanupHours {
		jsonError(w, "invalid older_than_hours", http.StatusBadRequest)
		return
	}
	n, err := s.bus.Cleanup(time.Duration(hours) * time.Hour)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		jsonError(w, "invalid limit", http.StatusBadRequest)
		return
	}
	includeClaimed := q.Get("include_claimed") == "true"

	msgs, err := s.bus.ListForAgent(r.PathValue("agent"), includeClaimed, limit)
	if err != nil {
		jsonError(w, err.Error(), busStatus(err))
		return
	}
	if msgs == nil {
		msgs = []bus.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func requireAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	agent := callerFrom(r).AgentID
	if agent == "" {
		jsonError(w, "missing "+HeaderAgent+" header", http.StatusBadRequest)
		return "", false
	}
	return agent, true
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
