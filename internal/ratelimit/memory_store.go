package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. It is used in development and tests and
// does not survive restarts or share state across instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]int64)}
}

func (s *MemoryStore) Acquire(_ context.Context, sourceID string, now, window int64) (Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.records[sourceID]
	if ok && now-last < window {
		return Acquisition{Allowed: false, LastRequestTime: last}, nil
	}
	s.records[sourceID] = now
	return Acquisition{Allowed: true}, nil
}

func (s *MemoryStore) Purge(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, last := range s.records {
		if last < cutoff {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Lookup returns the stored timestamp for sourceID.
func (s *MemoryStore) Lookup(sourceID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.records[sourceID]
	return last, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
