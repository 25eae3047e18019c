package pending

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	record *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record != nil && !replaces(*s.record, record) {
		return ErrSuperseded
	}
	s.record = &record
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return Record{}, ErrNoRecord
	}
	return *s.record, nil
}

func (s *MemoryStore) ClearIf(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record != nil && s.record.Key == key {
		s.record = nil
	}
	return nil
}
