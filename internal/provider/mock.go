package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MockAdapter issues deterministic local tokens. It is used for local
// development (PROVIDER_MODE=mock) and tests.
type MockAdapter struct {
	id       ID
	lifetime time.Duration
	now      func() time.Time

	mu       sync.Mutex
	rejected map[string]bool

	// RefreshDelay stalls Refresh, which lets tests overlap callers.
	RefreshDelay time.Duration
	refreshes    atomic.Int64
	exchanges    atomic.Int64
}

func NewMockAdapter(id ID, lifetime time.Duration) *MockAdapter {
	return &MockAdapter{
		id:       id,
		lifetime: lifetime,
		now:      time.Now,
		rejected: make(map[string]bool),
	}
}

func (a *MockAdapter) ID() ID { return a.id }

func (a *MockAdapter) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("provider", string(a.id))
	return "http://mock.invalid/authorize?" + q.Encode()
}

func (a *MockAdapter) Exchange(ctx context.Context, code string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	a.exchanges.Add(1)
	code = strings.TrimSpace(code)
	if code == "" || strings.HasPrefix(code, "bad") {
		return Token{}, fmt.Errorf("%s exchange: %w: invalid_grant", a.id, ErrProviderRejected)
	}
	return Token{
		AccessToken:  "mock-access-" + uuid.NewString(),
		RefreshToken: "mock-refresh-" + code,
		ExpiresAt:    ExpiryIn(a.now(), a.lifetime),
		Scopes:       DefaultScopes(a.id),
	}, nil
}

func (a *MockAdapter) Refresh(ctx context.Context, token Token) (Token, error) {
	a.refreshes.Add(1)
	if a.RefreshDelay > 0 {
		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-time.After(a.RefreshDelay):
		}
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		return Token{}, fmt.Errorf("%s refresh: %w", a.id, ErrNoRefreshToken)
	}
	a.mu.Lock()
	rejected := a.rejected[token.RefreshToken]
	a.mu.Unlock()
	if rejected {
		return Token{}, fmt.Errorf("%s refresh: %w: invalid_grant", a.id, ErrProviderRejected)
	}
	return Token{
		AccessToken:  "mock-access-" + uuid.NewString(),
		RefreshToken: token.RefreshToken,
		ExpiresAt:    ExpiryIn(a.now(), a.lifetime),
		Scopes:       token.Scopes,
	}, nil
}

// Revoke makes every later refresh with refreshToken fail as rejected.
func (a *MockAdapter) Revoke(refreshToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected[refreshToken] = true
}

func (a *MockAdapter) Refreshes() int64 { return a.refreshes.Load() }

func (a *MockAdapter) Exchanges() int64 { return a.exchanges.Load() }
