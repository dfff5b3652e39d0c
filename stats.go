package relay

import (
	"sort"
	"strings"
	"sync"
)

// StatKey names a counter or gauge. Standard keys use the "relay:" prefix.
type StatKey string

// For appends a suffix (an event name, a hook id) to a per-item key prefix.
func (k StatKey) For(suffix string) StatKey {
	return StatKey(string(k) + suffix)
}

// Stats holds counters and gauges for the hook pipeline.
//
// # Counters vs Gauges
//
// Counters only go up (dispatches run, hooks skipped, timeouts). Gauges move
// both ways and describe current state, e.g. [KeyInFlightDispatches].
//
// # Thread Safety
//
// All methods are safe for concurrent use; concurrent dispatches share one
// Stats instance.
type Stats struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

// IncrCounter adds delta to a counter. Panics if delta is negative.
func (s *Stats) IncrCounter(key StatKey, delta int64) {
	if delta < 0 {
		panic("relay: IncrCounter called with negative delta")
	}
	s.mu.Lock()
	s.counters[string(key)] += delta
	s.mu.Unlock()
}

// GetCounter returns the counter value, or 0 if never incremented.
func (s *Stats) GetCounter(key StatKey) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[string(key)]
}

// IncrGauge adds delta (positive or negative) to a gauge.
func (s *Stats) IncrGauge(key StatKey, delta float64) {
	s.mu.Lock()
	s.gauges[string(key)] += delta
	s.mu.Unlock()
}

// GetGauge returns the gauge value, or 0 if never set.
func (s *Stats) GetGauge(key StatKey) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gauges[string(key)]
}

// Counters returns a copy of all counters.
func (s *Stats) Counters() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Gauges returns a copy of all gauges.
func (s *Stats) Gauges() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		out[k] = v
	}
	return out
}

// CountersWithPrefix returns counters whose key starts with prefix, sorted by key.
func (s *Stats) CountersWithPrefix(prefix StatKey) []StatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StatEntry
	for k, v := range s.counters {
		if strings.HasPrefix(k, string(prefix)) {
			out = append(out, StatEntry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// StatEntry is one counter reading.
type StatEntry struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}
