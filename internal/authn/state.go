package authn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/workmate/internal/provider"
)

var (
	ErrInvalidState = errors.New("unknown or expired oauth state")
	// ErrTooManyPending is returned by Begin when the pending set is full even
	// after dropping expired entries.
	ErrTooManyPending = errors.New("too many pending authorizations")
)

const (
	DefaultStateTTL   = 10 * time.Minute
	DefaultMaxPending = 10000
)

// PendingAuth is what an authorization redirect was started for.
type PendingAuth struct {
	UserID   string
	Provider provider.ID
	issuedAt time.Time
}

// StateStore hands out single-use OAuth state values.
type StateStore struct {
	mu         sync.Mutex
	pending    map[string]PendingAuth
	ttl        time.Duration
	maxPending int
	now        func() time.Time
}

type StateOption func(*StateStore)

// WithMaxPending bounds how many authorizations may be in flight at once.
func WithMaxPending(n int) StateOption {
	return func(s *StateStore) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

func NewStateStore(ttl time.Duration, opts ...StateOption) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &StateStore{
		pending:    make(map[string]PendingAuth),
		ttl:        ttl,
		maxPending: DefaultMaxPending,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartJanitor drops expired states every interval until ctx ends.
func (s *StateStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Begin records a pending authorization. An empty userID gets a fresh one.
func (s *StateStore) Begin(userID string, id provider.ID) (string, PendingAuth, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxPending {
		s.sweepLocked(now)
		if len(s.pending) >= s.maxPending {
			return "", PendingAuth{}, ErrTooManyPending
		}
	}
	state := uuid.NewString()
	p := PendingAuth{UserID: userID, Provider: id, issuedAt: now}
	s.pending[state] = p
	return state, p, nil
}

// Consume redeems state once. It fails for unknown, expired, reused or
// provider-mismatched values.
func (s *StateStore) Consume(state string, id provider.ID) (PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[state]
	if !ok {
		return PendingAuth{}, ErrInvalidState
	}
	delete(s.pending, state)
	if s.now().Sub(p.issuedAt) > s.ttl || p.Provider != id {
		return PendingAuth{}, ErrInvalidState
	}
	return p, nil
}

func (s *StateStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
}

func (s *StateStore) sweepLocked(now time.Time) {
	for k, p := range s.pending {
		if now.Sub(p.issuedAt) > s.ttl {
			delete(s.pending, k)
		}
	}
}

func (s *StateStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
