// Package gateway exposes dispatch, hook management and the message bus over
// HTTP.
//
// The caller identifies itself with headers:
//
//	X-Agent-Role    leader (default when absent) or worker
//	X-Agent-Run-Id  the agent's run, copied into the payload
//	X-Agent-Id      the agent's bus identity
//
// Registry mutation and destructive bus operations are leader-only. Errors are
// JSON objects with an "error" field.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
	"github.com/rickchristie/relay/events"
	"github.com/rickchristie/relay/hooks"
	"github.com/sirupsen/logrus"
)

// Request headers.
const (
	HeaderRole  = "X-Agent-Role"
	HeaderRunID = "X-Agent-Run-Id"
	HeaderAgent = "X-Agent-Id"
)

const maxBodyLen = 1 << 20

// Dispatcher runs a dispatch. *executor.Executor satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, event relay.HookEvent, payload relay.HookPayload) (relay.DispatchResult, relay.HookPayload)
}

// Server is the HTTP gateway.
type Server struct {
	dispatcher Dispatcher
	registry   *hooks.Registry
	bus        *bus.Service
	feed       *events.Feed
	stats      *relay.Stats
	clock      relay.TimeProvider
	log        *logrus.Entry

	mux      *http.ServeMux
	started  time.Time
	requests atomic.Int64
	errors   atomic.Int64
}

// New creates a server. A nil bus disables the message routes.
func New(d Dispatcher, registry *hooks.Registry, msgs *bus.Service) *Server {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := &Server{
		dispatcher: d,
		registry:   registry,
		bus:        msgs,
		clock:      relay.NewDefaultTimeProvider(),
		log:        logrus.NewEntry(l),
	}
	s.started = s.clock.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /v1/dispatch/{event}", s.handleDispatch)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/hooks", s.handleListHooks)
	mux.HandleFunc("POST /v1/hooks", s.leaderOnly(s.handleAddHook))
	mux.HandleFunc("POST /v1/hooks/reload", s.leaderOnly(s.handleReloadHooks))
	mux.HandleFunc("DELETE /v1/hooks/{id}", s.leaderOnly(s.handleRemoveHook))
	mux.HandleFunc("POST /v1/hooks/{id}/enable", s.leaderOnly(s.handleSetHookEnabled(true)))
	mux.HandleFunc("POST /v1/hooks/{id}/disable", s.leaderOnly(s.handleSetHookEnabled(false)))

	if msgs != nil {
		mux.HandleFunc("POST /v1/messages", s.handleSend)
		mux.HandleFunc("GET /v1/messages", s.handleList)
		mux.HandleFunc("GET /v1/messages/stats", s.handleBusStats)
		mux.HandleFunc("POST /v1/messages/cleanup", s.leaderOnly(s.handleCleanup))
		mux.HandleFunc("GET /v1/messages/{id}", s.handleGet)
		mux.HandleFunc("DELETE /v1/messages/{id}", s.leaderOnly(s.handleDelete))
		mux.HandleFunc("POST /v1/messages/{id}/claim", s.handleClaim)
		mux.HandleFunc("POST /v1/messages/{id}/ack", s.handleAck)
		mux.HandleFunc("POST /v1/messages/{id}/complete", s.handleComplete)
		mux.HandleFunc("POST /v1/messages/{id}/release", s.handleRelease)
		mux.HandleFunc("GET /v1/agents/{agent}/inbox", s.handleInbox)
	}
	s.mux = mux
	return s
}

// WithStats exposes st on /stats.
func (s *Server) WithStats(st *relay.Stats) *Server {
	s.stats = st
	return s
}

// WithFeed enables the GET /v1/events stream.
func (s *Server) WithFeed(f *events.Feed) *Server {
	s.feed = f
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(log *logrus.Entry) *Server {
	if log != nil {
		s.log = log
	}
	return s
}

// WithTimeProvider sets the clock used for timestamps and uptime.
func (s *Server) WithTimeProvider(tp relay.TimeProvider) *Server {
	if tp != nil {
		s.clock = tp
		s.started = tp.Now()
	}
	return s
}

// Handler returns the HTTP handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)

		s.requests.Add(1)
		if rec.status >= 400 {
			s.errors.Add(1)
		}
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// -----------------------------------------------------------------------------
// Caller identity
// -----------------------------------------------------------------------------

type caller struct {
	Role    relay.Role
	RunID   string
	AgentID string
}

func callerFrom(r *http.Request) caller {
	return caller{
		Role:    relay.ParseRole(r.Header.Get(HeaderRole)),
		RunID:   r.Header.Get(HeaderRunID),
		AgentID: r.Header.Get(HeaderAgent),
	}
}

func (s *Server) leaderOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c := callerFrom(r); c.Role != relay.RoleLeader {
			s.log.WithFields(logrus.Fields{"path": r.URL.Path, "agent": c.AgentID}).
				Warn("worker refused on leader-only route")
			jsonError(w, "leader only", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// -----------------------------------------------------------------------------
// Health and stats
// -----------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"time":       s.clock.Now().UTC().Format(time.RFC3339),
		"hooks":      len(s.registry.Hooks()),
		"unresolved": len(s.registry.Unresolved()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"requests":       s.requests.Load(),
		"errors":         s.errors.Load(),
		"uptime_seconds": int64(s.clock.Since(s.started).Seconds()),
	}
	if s.stats != nil {
		resp["counters"] = s.stats.Counters()
		resp["gauges"] = s.stats.Gauges()
	}
	writeJSON(w, http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response with the correct Content-Type.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyLen+1))
	if err != nil {
		return fmt.Errorf("failed to read body")
	}
	if len(body) > maxBodyLen {
		return fmt.Errorf("body too large")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// busStatus maps bus errors to HTTP status codes.
func busStatus(err error) int {
	switch {
	case errors.Is(err, bus.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bus.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, bus.ErrNotClaimant), errors.Is(err, bus.ErrNotRecipient):
		return http.StatusForbidden
	case errors.Is(err, bus.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
