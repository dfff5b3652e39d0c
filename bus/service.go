package bus

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rickchristie/relay"
	"github.com/sirupsen/logrus"
)

// SendRequest is the input to Send.
type SendRequest struct {
	From     string         `json:"from_agent"`
	To       string         `json:"to_agent"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Priority string         `json:"priority,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status    Status `json:"status,omitempty"`
	ToAgent   string `json:"to_agent,omitempty"`
	FromAgent string `json:"from_agent,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ListResult is a page of messages plus counts over the whole filtered set.
type ListResult struct {
	Messages []Message      `json:"messages"`
	Total    int            `json:"total"`
	Counts   map[Status]int `json:"counts"`
}

// Stats summarizes the store.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByPriority map[Priority]int `json:"by_priority"`
}

// Service is the message bus. Every operation is one Store.Update or
// Store.View, so each is atomic with respect to the others.
//
// # Claim Protocol
//
//	id, _ := svc.Send(bus.SendRequest{From: "leader", To: bus.ToWorkers, Subject: "build docs"})
//	msg, err := svc.Claim(id, "worker-1")     // pending -> claimed
//	err = svc.Ack(id, "worker-1")             // claimed -> in_progress
//	err = svc.Complete(id, "worker-1", true, "done")
//
// When two agents race for the same message exactly one Claim succeeds; the
// other gets ErrInvalidTransition ("already claimed").
type Service struct {
	store *Store
	clock relay.TimeProvider
	log   *logrus.Entry
}

// NewService creates a service over store.
func NewService(store *Store) *Service {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Service{
		store: store,
		clock: relay.NewDefaultTimeProvider(),
		log:   logrus.NewEntry(l),
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(log *logrus.Entry) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

// WithTimeProvider sets the clock used for message timestamps.
func (s *Service) WithTimeProvider(tp relay.TimeProvider) *Service {
	if tp != nil {
		s.clock = tp
	}
	return s
}

// Send stores a new pending message and returns its id.
func (s *Service) Send(req SendRequest) (string, error) {
	from := strings.TrimSpace(req.From)
	to := strings.TrimSpace(req.To)
	subject := strings.TrimSpace(req.Subject)
	switch {
	case from == "":
		return "", fmt.Errorf("%w: from_agent is required", ErrInvalidMessage)
	case to == "":
		return "", fmt.Errorf("%w: to_agent is required", ErrInvalidMessage)
	case subject == "":
		return "", fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return "", err
	}

	metadata, err := NormalizeMetadata(req.Metadata)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	msg := &Message{
		ID:        uuid.NewString(),
		FromAgent: from,
		ToAgent:   to,
		Subject:   subject,
		Body:      req.Body,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}

	err = s.store.Update(func(t Table) error {
		t[msg.ID] = msg
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"from":       from,
		"to":         to,
		"priority":   priority,
	}).Info("message sent")
	return msg.ID, nil
}

// Claim reserves a pending message for agent, who must be a recipient.
func (s *Service) Claim(id, agent string) (Message, error) {
	if strings.TrimSpace(agent) == "" {
		return Message{}, fmt.Errorf("%w: agent is required", ErrInvalidMessage)
	}
	var claimed Message
	err := s.store.Update(func(t Table) error {
		m, err := lookup(t, id)
		if err != nil {
			return err
		}
		if !m.AddressedTo(agent) {
			return fmt.Errorf("%w: message %s is addressed to %s", ErrNotRecipient, id, m.ToAgent)
		}
		if err := m.Claim(agent, s.clock.Now()); err != nil {
			return fmt.Errorf("claim %s: %w", id, err)
		}
		claimed = *m.Clone()
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	s.log.WithFields(logrus.Fields{"message_id": id, "agent": agent}).Info("message claimed")
	return claimed, nil
}

// Ack marks a claimed message as in progress.
func (s *Service) Ack(id, agent string) error {
	return s.transition(id, agent, "ack", func(m *Message, now time.Time) error {
		return m.StartProgress(now)
	})
}

// Complete finishes a message. success=false records result as the failure
// reason.
func (s *Service) Complete(id, agent string, success bool, result string) error {
	op := "complete"
	if !success {
		op = "fail"
	}
	return s.transition(id, agent, op, func(m *Message, now time.Time) error {
		if success {
			return m.Complete(result, now)
		}
		return m.Fail(result, now)
	})
}

// Release returns a claimed or in-progress message to pending.
func (s *Service) Release(id, agent string) error {
	return s.transition(id, agent, "release", func(m *Message, now time.Time) error {
		return m.Release(now)
	})
}

// transition applies fn to a message held by agent. A message that is
// currently claimed by someone else yields ErrNotClaimant; other state
// problems come back from fn as ErrInvalidTransition.
func (s *Service) transition(id, agent, op string, fn func(*Message, time.Time) error) error {
	err := s.store.Update(func(t Table) error {
		m, err := lookup(t, id)
		if err != nil {
			return err
		}
		if m.ClaimedBy != "" && m.ClaimedBy != agent && !m.Status.Terminal() {
			return fmt.Errorf("%s %s: %w: claimed by %s", op, id, ErrNotClaimant, m.ClaimedBy)
		}
		if err := fn(m, s.clock.Now()); err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"message_id": id, "agent": agent, "op": op}).Info("message updated")
	return nil
}

// Get returns one message.
func (s *Service) Get(id string) (Message, error) {
	var out Message
	err := s.store.View(func(t Table) error {
		m, err := lookup(t, id)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

// ListForAgent returns agent's inbox: pending messages addressed to the
// agent, to broadcast or to workers, in inbox order. With includeClaimed the
// messages agent currently holds are included too. limit <= 0 means no limit.
func (s *Service) ListForAgent(agent string, includeClaimed bool, limit int) ([]Message, error) {
	var matched []*Message
	err := s.store.View(func(t Table) error {
		for _, m := range t {
			if !m.AddressedTo(agent) {
				continue
			}
			switch m.Status {
			case StatusPending:
				matched = append(matched, m)
			case StatusClaimed, StatusInProgress:
				if includeClaimed && m.ClaimedBy == agent {
					matched = append(matched, m)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(matched, limit), nil
}

// List returns messages matching filter in inbox order.
func (s *Service) List(filter ListFilter) (ListResult, error) {
	var matched []*Message
	err := s.store.View(func(t Table) error {
		for _, m := range t {
			if filter.Status != "" && m.Status != filter.Status {
				continue
			}
			if filter.ToAgent != "" && m.ToAgent != filter.ToAgent {
				continue
			}
			if filter.FromAgent != "" && m.FromAgent != filter.FromAgent {
				continue
			}
			matched = append(matched, m)
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}

	counts := make(map[Status]int)
	for _, m := range matched {
		counts[m.Status]++
	}
	return ListResult{
		Messages: sortAndLimit(matched, filter.Limit),
		Total:    len(matched),
		Counts:   counts,
	}, nil
}

// Stats counts messages by status and priority.
func (s *Service) Stats() (Stats, error) {
	stats := Stats{
		ByStatus:   make(map[Status]int),
		ByPriority: make(map[Priority]int),
	}
	err := s.store.View(func(t Table) error {
		for _, m := range t {
			stats.Total++
			stats.ByStatus[m.Status]++
			stats.ByPriority[m.Priority]++
		}
		return nil
	})
	return stats, err
}

// Cleanup deletes completed and failed messages that finished more than
// olderThan ago and returns how many were removed. Pending and claimed
// messages are never removed.
func (s *Service) Cleanup(olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: cleanup age %s is negative", ErrInvalidMessage, olderThan)
	}
	cutoff := s.clock.Now().Add(-olderThan)
	removed := 0
	err := s.store.Update(func(t Table) error {
		for id, m := range t {
			if !m.Status.Terminal() || m.CompletedAt == nil {
				continue
			}
			if m.CompletedAt.Before(cutoff) {
				delete(t, id)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"removed": removed, "older_than": olderThan}).Info("message cleanup")
	return removed, nil
}

// Delete removes a message regardless of status.
func (s *Service) Delete(id string) error {
	err := s.store.Update(func(t Table) error {
		if _, err := lookup(t, id); err != nil {
			return err
		}
		delete(t, id)
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithField("message_id", id).Info("message deleted")
	return nil
}

func lookup(t Table, id string) (*Message, error) {
	m, ok := t[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, nil
}

func sortAndLimit(msgs []*Message, limit int) []Message {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}
