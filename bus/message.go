package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors. Service methods wrap them with context; match with errors.Is.
var (
	ErrNotFound          = errors.New("message not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotClaimant       = errors.New("not the claimant")
	ErrNotRecipient      = errors.New("not a recipient")
	ErrInvalidMessage    = errors.New("invalid message")
)

// Reserved recipients.
const (
	// ToBroadcast addresses every agent.
	ToBroadcast = "broadcast"

	// ToWorkers addresses every worker agent.
	ToWorkers = "workers"
)

// Status is a message's position in its lifecycle.
//
//	pending -> claimed -> in_progress -> completed | failed
//	claimed | in_progress -> pending (release)
//	claimed -> completed | failed
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusClaimed, StatusInProgress, StatusCompleted, StatusFailed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders an agent's inbox.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority maps a request value to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidMessage, s)
	}
}

// Rank is the sort key: high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Message is one unit of coordination between agents.
//
// Fields change only through the transition methods below. ClaimedBy is kept
// after completion or failure so the outcome stays attributable.
type Message struct {
	ID          string         `json:"id"`
	FromAgent   string         `json:"from_agent"`
	ToAgent     string         `json:"to_agent"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Priority    Priority       `json:"priority"`
	Status      Status         `json:"status"`
	ClaimedBy   string         `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AddressedTo reports whether agent may claim m.
func (m *Message) AddressedTo(agent string) bool {
	return m.ToAgent == agent || m.ToAgent == ToBroadcast || m.ToAgent == ToWorkers
}

// Claim moves a pending message to claimed by agent.
func (m *Message) Claim(agent string, now time.Time) error {
	if err := m.require(StatusPending); err != nil {
		return err
	}
	m.Status = StatusClaimed
	m.ClaimedBy = agent
	m.ClaimedAt = timePtr(now)
	m.UpdatedAt = now
	return nil
}

// StartProgress moves a claimed message to in_progress.
func (m *Message) StartProgress(now time.Time) error {
	if err := m.require(StatusClaimed); err != nil {
		return err
	}
	m.Status = StatusInProgress
	m.UpdatedAt = now
	return nil
}

// Complete finishes the message successfully with result.
func (m *Message) Complete(result string, now time.Time) error {
	if err := m.require(StatusClaimed, StatusInProgress); err != nil {
		return err
	}
	m.Status = StatusCompleted
	m.Result = result
	m.CompletedAt = timePtr(now)
	m.UpdatedAt = now
	return nil
}

// Fail finishes the message unsuccessfully with reason.
func (m *Message) Fail(reason string, now time.Time) error {
	if err := m.require(StatusClaimed, StatusInProgress); err != nil {
		return err
	}
	m.Status = StatusFailed
	m.Error = reason
	m.CompletedAt = timePtr(now)
	m.UpdatedAt = now
	return nil
}

// Release returns a claimed or in-progress message to pending.
func (m *Message) Release(now time.Time) error {
	if err := m.require(StatusClaimed, StatusInProgress); err != nil {
		return err
	}
	m.Status = StatusPending
	m.ClaimedBy = ""
	m.ClaimedAt = nil
	m.UpdatedAt = now
	return nil
}

func (m *Message) require(allowed ...Status) error {
	for _, s := range allowed {
		if m.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: already %s", ErrInvalidTransition, m.Status)
}

// Clone returns a copy of m that shares no pointers with it.
func (m *Message) Clone() *Message {
	out := *m
	if m.ClaimedAt != nil {
		out.ClaimedAt = timePtr(*m.ClaimedAt)
	}
	if m.CompletedAt != nil {
		out.CompletedAt = timePtr(*m.CompletedAt)
	}
	if m.Metadata != nil {
		out.Metadata = cloneValue(m.Metadata).(map[string]any)
	}
	return &out
}

// NormalizeMetadata returns a private copy of md holding only the values JSON
// decoding produces (numbers become float64), so a message reads the same
// before and after a reload. Empty metadata yields nil.
func NormalizeMetadata(md map[string]any) (map[string]any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON-serializable: %v", ErrInvalidMessage, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidMessage, err)
	}
	return out, nil
}

// cloneValue deep-copies decoded JSON. Scalars are immutable and returned
// as is.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Before reports whether m sorts ahead of other in an inbox: priority rank,
// then creation time, then id.
func (m *Message) Before(other *Message) bool {
	if a, b := m.Priority.Rank(), other.Priority.Rank(); a != b {
		return a < b
	}
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

func timePtr(t time.Time) *time.Time {
	return &t
}
