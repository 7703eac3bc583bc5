// Package memstore provides an in-memory relyingparty.Store for development
// and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/idsrv/idsrv/relyingparty"
)

// Store implements relyingparty.Store over a map keyed by realm.
type Store struct {
	mu      sync.RWMutex
	records map[string]relyingparty.Record
}

var _ relyingparty.Store = (*Store)(nil)

// New returns a Store preloaded with the given records.
func New(records ...relyingparty.Record) *Store {
	s := &Store{records: make(map[string]relyingparty.Record, len(records))}
	for _, r := range records {
		s.records[r.Realm] = r
	}
	return s
}

// Put adds or replaces a record.
func (s *Store) Put(r relyingparty.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Realm] = r
}

// Get returns the record for realm.
func (s *Store) Get(_ context.Context, realm string) (*relyingparty.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[realm]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}
