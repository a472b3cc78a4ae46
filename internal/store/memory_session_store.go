package store

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore implements SessionStore using an in-memory map
type MemorySessionStore struct {
	mu     sync.RWMutex
	tokens map[string]sessionEntry
	ttl    time.Duration
	now    func() time.Time
}

type sessionEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemorySessionStore creates a session store whose tokens expire after
// ttl; a zero ttl keeps them forever
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		tokens: make(map[string]sessionEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get retrieves the token of a partition key range
func (s *MemorySessionStore) Get(ctx context.Context, partitionKeyRangeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[partitionKeyRangeID]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		return "", ErrNotFound
	}
	return entry.token, nil
}

// Set stores the token of a partition key range
func (s *MemorySessionStore) Set(ctx context.Context, partitionKeyRangeID, token string) error {
	entry := sessionEntry{token: token}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.tokens[partitionKeyRangeID] = entry
	s.mu.Unlock()
	return nil
}

// Close releases nothing; it exists to satisfy SessionStore
func (s *MemorySessionStore) Close() error {
	return nil
}
