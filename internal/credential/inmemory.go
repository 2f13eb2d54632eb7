package credential

import (
	"context"
	"sync"

	"github.com/antoniostano/workmate/internal/provider"
)

type key struct {
	userID string
	id     provider.ID
}

// InMemoryStore is a simple in-process credential store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[key]Credential
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[key]Credential)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string, id provider.ID) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[key{userID, id}]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) Put(_ context.Context, userID string, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key{userID, c.Provider}] = clone(c)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string, id provider.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key{userID, id})
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
