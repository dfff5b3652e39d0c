// Package audit keeps a durable trail of completed dispatches.
//
// A [Recorder] subscribes to the executor's observer registry, turns every
// [relay.DispatchCompletedEvent] into a [Record], and hands it to one or more
// [Sink]s off the dispatch path:
//
//	rec := audit.NewRecorder(sqliteSink, meiliSink).WithLogger(log)
//	observers.Subscribe(rec)
//	go rec.Run(ctx)
//	defer rec.Close()
//
// Dispatch latency never depends on a sink. Records queue in memory and are
// written by Run; when the queue overflows the oldest records are dropped.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rickchristie/relay"
)

// Record is one completed dispatch as stored by the sinks.
type Record struct {
	ID            string    `json:"id"`
	Event         string    `json:"event"`
	RunID         string    `json:"run_id"`
	Role          string    `json:"role"`
	SessionID     string    `json:"session_id,omitempty"`
	AgentRunID    string    `json:"agent_run_id,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	OK            bool      `json:"ok"`
	Allow         bool      `json:"allow"`
	BlockReason   string    `json:"block_reason,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Executed      []string  `json:"executed"`
	Skipped       []string  `json:"skipped,omitempty"`
	Notes         []string  `json:"notes,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
	TimestampUnix int64     `json:"timestamp_unix"`

	// NotesFlat joins Notes for full-text search.
	NotesFlat string `json:"notes_flat,omitempty"`
}

// NewRecord builds a Record from a completed dispatch.
func NewRecord(e *relay.DispatchCompletedEvent, at time.Time) Record {
	res := e.Result
	executed := append([]string{}, res.Executed...)
	return Record{
		ID:            uuid.NewString(),
		Event:         string(e.Event),
		RunID:         e.RunID,
		Role:          string(e.Role),
		SessionID:     e.Payload.Session.SessionID,
		AgentRunID:    e.Payload.AgentRunID,
		ToolName:      e.Payload.ToolName(),
		OK:            res.OK,
		Allow:         res.Allow,
		BlockReason:   res.BlockReason,
		ErrorCode:     res.ErrorCode,
		ErrorMessage:  res.ErrorMessage,
		Executed:      executed,
		Skipped:       append([]string(nil), res.Skipped...),
		Notes:         append([]string(nil), res.Notes...),
		DurationMs:    res.Duration.Milliseconds(),
		Timestamp:     at.UTC(),
		TimestampUnix: at.Unix(),
		NotesFlat:     strings.Join(res.Notes, "\n"),
	}
}

// Sink stores records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}
