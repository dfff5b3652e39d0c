package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/internal/atomicfile"
	"github.com/sirupsen/logrus"
)

// Table is the set of messages keyed by id. A Table handed to an Update
// callback is a private copy; changes become visible only if the callback
// succeeds and the copy is persisted.
type Table map[string]*Message

func (t Table) clone() Table {
	out := make(Table, len(t))
	for id, m := range t {
		out[id] = m.Clone()
	}
	return out
}

// document is the persisted form of a Table.
type document struct {
	Messages  Table     `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds messages in memory and persists the whole table on every
// change.
//
// # Atomicity
//
// Update runs check, mutate and persist under one lock. If the callback
// errors or the write fails, the in-memory table is left as it was, so a
// failed transition is never half-applied.
//
// An empty path gives a memory-only store.
type Store struct {
	path  string
	clock relay.TimeProvider
	log   *logrus.Entry

	mu       sync.Mutex
	messages Table
}

// NewStore creates a store backed by path, loading existing content. A
// missing file starts an empty table.
func NewStore(path string) (*Store, error) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := &Store{
		path:     path,
		clock:    relay.NewDefaultTimeProvider(),
		log:      logrus.NewEntry(l),
		messages: make(Table),
	}
	if path == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithLogger sets the logger.
func (s *Store) WithLogger(log *logrus.Entry) *Store {
	if log != nil {
		s.log = log
	}
	return s
}

// WithTimeProvider sets the clock stamped into the persisted document.
func (s *Store) WithTimeProvider(tp relay.TimeProvider) *Store {
	if tp != nil {
		s.clock = tp
	}
	return s
}

// Path returns the backing file, empty for a memory-only store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.WithField("path", s.path).Info("message store not found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading message store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing message store %s: %w", s.path, err)
	}
	for id, m := range doc.Messages {
		if m == nil {
			delete(doc.Messages, id)
			continue
		}
		if m.ID == "" {
			m.ID = id
		}
	}
	if doc.Messages != nil {
		s.messages = doc.Messages
	}
	s.log.WithFields(logrus.Fields{"path": s.path, "messages": len(s.messages)}).
		Debug("message store loaded")
	return nil
}

// View runs fn against a copy of the table. Changes fn makes are discarded.
func (s *Store) View(fn func(Table) error) error {
	s.mu.Lock()
	snapshot := s.messages.clone()
	s.mu.Unlock()
	return fn(snapshot)
}

// Update runs fn against a copy of the table and, if fn succeeds, persists
// the copy and makes it current. The lock is held throughout.
func (s *Store) Update(fn func(Table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.messages.clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := s.persist(working); err != nil {
		s.log.WithError(err).Error("message store persist failed, change rolled back")
		return err
	}
	s.messages = working
	return nil
}

func (s *Store) persist(t Table) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(document{Messages: t, UpdatedAt: s.clock.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding message store: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("persisting message store: %w", err)
	}
	return nil
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
