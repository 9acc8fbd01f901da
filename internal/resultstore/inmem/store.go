// Package inmem keeps results in process memory. It backs tests and the
// local dispatcher when nothing needs to survive the process.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/kingrea/splitflow/internal/resultstore"
)

// Store is a concurrency-safe map of split id to payload.
type Store struct {
	mu      sync.RWMutex
	results map[string][]byte
}

var _ resultstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{results: map[string][]byte{}}
}

func (s *Store) Put(_ context.Context, id string, payload []byte) error {
	if err := resultstore.CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = append([]byte(nil), payload...)
	return nil
}

func (s *Store) Get(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func (s *Store) ListIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a result. Resume never deletes; tests use this to simulate
// a runner that has not finished.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
}
