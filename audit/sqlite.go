package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timestampLayout has fixed width so text order is time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores records in a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	sink := &SQLiteSink{db: db}
	if err := sink.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return sink, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		run_id TEXT NOT NULL,
		role TEXT NOT NULL,
		session_id TEXT,
		agent_run_id TEXT,
		tool_name TEXT,
		ok BOOLEAN NOT NULL,
		allow BOOLEAN NOT NULL,
		block_reason TEXT,
		error_code TEXT,
		error_message TEXT,
		executed TEXT,
		skipped TEXT,
		notes TEXT,
		duration_ms INTEGER,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_timestamp ON dispatches(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dispatches_event ON dispatches(event);
	CREATE INDEX IF NOT EXISTS idx_dispatches_run_id ON dispatches(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write inserts rec.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	executed, err := json.Marshal(rec.Executed)
	if err != nil {
		return fmt.Errorf("failed to encode executed hooks: %w", err)
	}
	skipped, err := json.Marshal(rec.Skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skipped hooks: %w", err)
	}
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	query := `
	INSERT INTO dispatches (
		id, event, run_id, role, session_id, agent_run_id, tool_name,
		ok, allow, block_reason, error_code, error_message,
		executed, skipped, notes, duration_ms, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Event, rec.RunID, rec.Role, rec.SessionID, rec.AgentRunID, rec.ToolName,
		rec.OK, rec.Allow, rec.BlockReason, rec.ErrorCode, rec.ErrorMessage,
		string(executed), string(skipped), string(notes), rec.DurationMs,
		rec.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Query narrows Recent.
type Query struct {
	Event string
	RunID string
	Limit int
}

// Recent returns records matching q, newest first. Limit defaults to 50.
func (s *SQLiteSink) Recent(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, event, run_id, role, session_id, agent_run_id, tool_name,
		ok, allow, block_reason, error_code, error_message,
		executed, skipped, notes, duration_ms, timestamp
	FROM dispatches
	WHERE (? = '' OR event = ?) AND (? = '' OR run_id = ?)
	ORDER BY timestamp DESC, id
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, q.Event, q.Event, q.RunID, q.RunID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                                  Record
			sessionID, agentRunID, toolName      sql.NullString
			blockReason, errorCode, errorMessage sql.NullString
			executed, skipped, notes, timestamp  sql.NullString
			durationMs                           sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Event, &rec.RunID, &rec.Role, &sessionID, &agentRunID, &toolName,
			&rec.OK, &rec.Allow, &blockReason, &errorCode, &errorMessage,
			&executed, &skipped, &notes, &durationMs, &timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.SessionID = sessionID.String
		rec.AgentRunID = agentRunID.String
		rec.ToolName = toolName.String
		rec.BlockReason = blockReason.String
		rec.ErrorCode = errorCode.String
		rec.ErrorMessage = errorMessage.String
		rec.DurationMs = durationMs.Int64
		if err := decodeList(executed, &rec.Executed); err != nil {
			return nil, err
		}
		if err := decodeList(skipped, &rec.Skipped); err != nil {
			return nil, err
		}
		if err := decodeList(notes, &rec.Notes); err != nil {
			return nil, err
		}
		if timestamp.Valid {
			ts, err := time.Parse(timestampLayout, timestamp.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse audit timestamp: %w", err)
			}
			rec.Timestamp = ts
			rec.TimestampUnix = ts.Unix()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeList(raw sql.NullString, into *[]string) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), into); err != nil {
		return fmt.Errorf("failed to decode audit list: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*SQLiteSink)(nil)
