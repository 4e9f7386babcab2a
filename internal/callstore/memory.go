package callstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a [Store] held in process memory. Records are lost on
// restart.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]Record)}
}

func (s *MemoryStore) Start(_ context.Context, rec Record) error {
	rec.Caller = maps.Clone(rec.Caller)
	s.mu.Lock()
	s.calls[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, endedAt time.Time, turns, nudges int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	rec.EndedAt = endedAt
	rec.Turns = turns
	rec.Nudges = nudges
	s.calls[id] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Caller = maps.Clone(rec.Caller)
	return rec, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	out := make([]Record, 0, len(s.calls))
	for _, rec := range s.calls {
		rec.Caller = maps.Clone(rec.Caller)
		out = append(out, rec)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
