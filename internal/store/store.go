// Package store provides the in-memory payment state store. All mutation
// goes through Insert or CompareAndSwap, so readers always observe a record
// that some single writer stored atomically.
package store

import (
	"sort"
	"sync"

	"github.com/yourorg/pos-payments/internal/payment"
)

// Store is a concurrency-safe mapping from payment identifier to the current
// record. It is the only mutable shared resource in the service.
type Store struct {
	mu      sync.RWMutex
	records map[string]payment.Record
}

// New creates an empty Store. Each Coordinator owns its own instance; there
// is no package-level registry.
func New() *Store {
	return &Store{records: make(map[string]payment.Record)}
}

// Insert stores rec under id unless the id is already present. It returns
// false, without touching the existing record, when the id is taken.
func (s *Store) Insert(id string, rec payment.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return false
	}
	s.records[id] = rec
	return true
}

// Get returns the current snapshot for id.
func (s *Store) Get(id string) (payment.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	return rec, ok
}

// CompareAndSwap replaces the record stored under id with next, but only when
// the currently stored record is value-identical to expected. A false return
// means another writer got there first (or the id is unknown); the caller
// must re-read before deciding what to do.
func (s *Store) CompareAndSwap(id string, expected, next payment.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok || !current.Equal(expected) {
		return false
	}
	s.records[id] = next
	return true
}

// ListWhere returns a snapshot of all records matching pred, ordered by
// creation time descending. The slice reflects store contents at call time;
// concurrent writers do not affect it once returned.
func (s *Store) ListWhere(pred func(payment.Record) bool) []payment.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]payment.Record, 0)
	for _, rec := range s.records {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].PaymentID < out[j].PaymentID
	})
	return out
}
