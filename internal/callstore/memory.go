package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe, in-memory Store, used by worker tests
// so they don't need a live Postgres instance. The zero
// value is ready to use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]Record
	nextID  int64
}

// NewMemoryStore returns an initialized MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[int64]Record)
	}
	s.nextID++
	id := s.nextID
	stored := *rec
	stored.ID = id
	s.records[id] = stored
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("call %d not found", id)
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) UpdateTranscript(ctx context.Context, id int64, rawTranscript json.RawMessage, plaintext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("call %d not found", id)
	}
	rec.RawTranscript = rawTranscript
	rec.TranscriptPlaintext = plaintext
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) UpdateGeo(ctx context.Context, id int64, geo json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("call %d not found", id)
	}
	rec.Geo = geo
	s.records[id] = rec
	return nil
}

func (s *MemoryStore) Close() {}

// Len returns the number of records currently stored, for test assertions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
