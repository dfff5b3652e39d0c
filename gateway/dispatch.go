package gateway

import (
	"net/http"

	"github.com/rickchristie/relay"
)

// DispatchResponse is the body of POST /v1/dispatch/{event}.
type DispatchResponse struct {
	Error   string               `json:"error,omitempty"`
	Result  relay.DispatchResult `json:"result"`
	Payload relay.HookPayload    `json:"payload"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("event")
	event, err := relay.ParseHookEvent(name)
	if err != nil {
		// Passed through so the executor reports unknown_event.
		event = relay.HookEvent(name)
	}

	var payload relay.HookPayload
	if err := decodeBody(r, &payload); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The role comes from the caller's headers only; a body role is ignored.
	c := callerFrom(r)
	payload.AgentRole = c.Role
	if c.RunID != "" {
		payload.AgentRunID = c.RunID
	}
	if payload.Data == nil {
		payload.Data = make(map[string]any)
	}
	if _, ok := payload.Data["agent_id"]; !ok && c.AgentID != "" {
		payload.Data["agent_id"] = c.AgentID
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = s.clock.Now().UTC()
	}

	result, out := s.dispatcher.Dispatch(r.Context(), event, payload)
	writeJSON(w, dispatchStatus(result), NewDispatchResponse(result, out))
}

// NewDispatchResponse wraps a dispatch outcome. Error is set when the
// dispatch was aborted before or instead of running hooks.
func NewDispatchResponse(result relay.DispatchResult, payload relay.HookPayload) DispatchResponse {
	resp := DispatchResponse{Result: result, Payload: payload}
	if dispatchStatus(result) != http.StatusOK {
		resp.Error = result.ErrorCode
	}
	return resp
}

// dispatchStatus maps aborted dispatches to HTTP status codes. Denials and
// hook failures are ordinary outcomes and return 200.
func dispatchStatus(res relay.DispatchResult) int {
	switch res.ErrorCode {
	case relay.ErrCodeRoleViolation:
		return http.StatusForbidden
	case relay.ErrCodeUnknownEvent, relay.ErrCodeInvalidPayload:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
