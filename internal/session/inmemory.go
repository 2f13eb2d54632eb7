package session

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process context store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]Context
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contexts: make(map[string]Context)}
}

func (s *InMemoryStore) Load(_ context.Context, userID string) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok {
		return Context{}, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, c Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.UserID] = c.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, userID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
