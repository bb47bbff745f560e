// Package store keeps the bounded in-memory ring of recently issued alerts.
//
// The store is the single source of alert ids: Append assigns the next id
// and the ingestion timestamp under one lock, so two concurrent appends can
// never observe the same id and id order always equals append order.
package store

import (
	"sync"
	"time"

	"alertd/pkg/alert"
)

const DefaultCapacity = 50

type Store struct {
	mu       sync.Mutex
	nextID   int64
	capacity int
	// alerts is ordered newest-first; the tail is evicted past capacity.
	alerts []alert.Alert

	now func() time.Time
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		nextID:   1,
		capacity: capacity,
		alerts:   make([]alert.Alert, 0, capacity),
		now:      time.Now,
	}
}

// Append finalizes a candidate: assigns the next id, stamps the current
// time, and inserts the alert at the head of the ring. The whole operation
// is one critical section.
func (s *Store) Append(c alert.Candidate) alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := alert.Alert{
		ID:        s.nextID,
		Title:     c.Title,
		Message:   c.Message,
		Type:      alert.ParseType(c.Type),
		Timestamp: s.now().UTC(),
	}
	s.nextID++

	s.alerts = append(s.alerts, alert.Alert{})
	copy(s.alerts[1:], s.alerts)
	s.alerts[0] = a
	if len(s.alerts) > s.capacity {
		s.alerts = s.alerts[:s.capacity]
	}
	return a
}

// Recent returns up to limit alerts, newest-first. limit <= 0 means all.
func (s *Store) Recent(limit int) []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]alert.Alert, n)
	copy(out, s.alerts[:n])
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// LastID reports the most recently assigned id (0 before the first append).
func (s *Store) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID - 1
}
