// Package credential owns provider credentials and their lifecycle: code
// exchange, storage, staleness checks and deduplicated refresh.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/provider"
)

const defaultRefreshTimeout = 30 * time.Second

// Manager is the single entry point for "give me a usable credential".
type Manager struct {
	store    Store
	adapters *provider.Registry
	leeway   time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	refreshTimeout time.Duration
	inflight       singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRefreshLeeway treats credentials as stale d before their stated expiry.
func WithRefreshLeeway(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.leeway = d
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now; tests use it to age credentials.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, adapters *provider.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		adapters:       adapters,
		logger:         slog.Default(),
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Providers lists the providers users can authorize against.
func (m *Manager) Providers() []provider.ID {
	return m.adapters.IDs()
}

// AuthorizationURL returns the provider consent URL carrying state.
func (m *Manager) AuthorizationURL(id provider.ID, state string) (string, error) {
	a, err := m.adapters.Get(id)
	if err != nil {
		return "", err
	}
	return a.AuthorizationURL(state), nil
}

// Exchange trades a single-use authorization code for a credential and
// stores it for userID. It is never retried.
func (m *Manager) Exchange(ctx context.Context, userID string, id provider.ID, code string) (Credential, error) {
	a, err := m.adapters.Get(id)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	tok, err := a.Exchange(ctx, code)
	if err != nil {
		m.observeExchange(id, "failed")
		return Credential{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		m.observeExchange(id, "failed")
		return Credential{}, fmt.Errorf("%w: provider returned an empty access token", ErrExchangeFailed)
	}

	c := fromToken(id, tok, m.now())
	if err := m.store.Put(ctx, userID, c); err != nil {
		return Credential{}, fmt.Errorf("store credential: %w", err)
	}
	m.observeExchange(id, "ok")
	m.logger.Info("credential stored", "user_id", userID, "provider", id, "has_refresh", c.HasRefreshToken())
	return clone(c), nil
}

// Resolve returns a non-stale credential for (userID, provider), refreshing
// it first when needed. A failed refresh leaves the stored credential in
// place so the caller can see why re-authorization is required.
func (m *Manager) Resolve(ctx context.Context, userID string, id provider.ID) (Credential, error) {
	c, err := m.store.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, fmt.Errorf("%w for %s", ErrNoCredential, id)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if !c.StaleAt(m.now(), m.leeway) && c.AccessToken != "" {
		return c, nil
	}
	return m.refresh(ctx, userID, id, false)
}

// Refresh forces a refresh, e.g. after a provider answered 401 for a
// credential whose expiry was unknown.
func (m *Manager) Refresh(ctx context.Context, userID string, id provider.ID) (Credential, error) {
	return m.refresh(ctx, userID, id, true)
}

// Revoke forgets the credential. Revoking an absent credential is a no-op.
func (m *Manager) Revoke(ctx context.Context, userID string, id provider.ID) error {
	if err := m.store.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	m.logger.Info("credential revoked", "user_id", userID, "provider", id)
	return nil
}

// refresh runs at most one provider refresh per (user, provider) at a time.
// Concurrent callers wait for the in-flight result instead of spending the
// refresh token twice.
func (m *Manager) refresh(ctx context.Context, userID string, id provider.ID, force bool) (Credential, error) {
	key := userID + "\x00" + string(id)
	startedAt := m.now()
	ch := m.inflight.DoChan(key, func() (any, error) {
		// Detached so one caller's cancellation doesn't fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(rctx, userID, id, force, startedAt)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return clone(res.Val.(Credential)), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, userID string, id provider.ID, force bool, startedAt time.Time) (Credential, error) {
	// Reload: a refresh that finished just before this flight started may
	// already have stored a fresh credential.
	c, err := m.store.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, fmt.Errorf("%w for %s", ErrNoCredential, id)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if !c.StaleAt(m.now(), m.leeway) && c.AccessToken != "" && (!force || c.UpdatedAt.After(startedAt)) {
		return c, nil
	}

	a, err := m.adapters.Get(id)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	tok, err := a.Refresh(ctx, c.token())
	if err != nil {
		m.observeRefresh(id, "failed")
		m.logger.Warn("credential refresh failed", "user_id", userID, "provider", id, "error", err)
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		m.observeRefresh(id, "failed")
		return Credential{}, fmt.Errorf("%w: provider returned an empty access token", ErrRefreshFailed)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = c.RefreshToken
	}
	if len(tok.Scopes) == 0 {
		tok.Scopes = c.Scopes
	}

	next := fromToken(id, tok, m.now())
	if err := m.store.Put(ctx, userID, next); err != nil {
		return Credential{}, fmt.Errorf("store refreshed credential: %w", err)
	}
	m.observeRefresh(id, "ok")
	m.logger.Debug("credential refreshed", "user_id", userID, "provider", id)
	return next, nil
}

func (m *Manager) observeRefresh(id provider.ID, outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.CredentialRefreshes.WithLabelValues(string(id), outcome).Inc()
}

func (m *Manager) observeExchange(id provider.ID, outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.CredentialExchanges.WithLabelValues(string(id), outcome).Inc()
}
