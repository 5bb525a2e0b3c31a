package logstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/echoreplay/pkg/record"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a map-backed [Store].
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]record.InteractionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]record.InteractionRecord)}
}

// Append adds rec to the session's log, creating the session on first write.
func (s *MemoryStore) Append(_ context.Context, sessionID string, rec record.InteractionRecord) error {
	if sessionID == "" {
		return fmt.Errorf("logstore: append: session id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], rec)
	return nil
}

// Records returns a copy of the session's log ordered by (timestamp, sequence).
func (s *MemoryStore) Records(_ context.Context, sessionID string) ([]record.InteractionRecord, error) {
	s.mu.RLock()
	recs, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("logstore: records for %q: %w", sessionID, ErrSessionNotFound)
	}

	out := make([]record.InteractionRecord, len(recs))
	copy(out, recs)
	record.SortRecords(out)
	return out, nil
}

// Sessions returns all known session ids, sorted.
func (s *MemoryStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
