package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]*Entry)}
}

// Tip implements Store.
func (s *MemoryStore) Tip(_ context.Context, streamID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.streams[streamID]
	if len(entries) == 0 {
		return nil, nil
	}
	cp := *entries[len(entries)-1]
	return &cp, nil
}

// Append implements Store. The tip comparison and the insert happen under
// one lock, so the write is conditional on the tip the caller observed.
func (s *MemoryStore) Append(_ context.Context, expectedTip string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.streams[e.StreamID]
	var tip *Entry
	if len(entries) > 0 {
		tip = entries[len(entries)-1]
	}
	if TipHash(tip) != expectedTip {
		return ErrTipMoved
	}

	e.Seq = len(entries)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.streams[e.StreamID] = append(entries, &cp)
	return nil
}

// ReadAll implements Store.
func (s *MemoryStore) ReadAll(_ context.Context, streamID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.streams[streamID]
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Tamper overwrites the stored payload of one entry without touching its
// hash. It exists so integrity failures can be exercised in tests.
func (s *MemoryStore) Tamper(streamID string, seq int, payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[streamID]
	if seq < 0 || seq >= len(entries) {
		return false
	}
	entries[seq].Payload = payload
	return true
}
