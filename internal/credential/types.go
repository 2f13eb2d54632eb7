package credential

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/workmate/internal/provider"
)

var (
	// ErrNotFound is returned by stores for an absent (user, provider) pair.
	ErrNotFound = errors.New("credential not found")

	ErrNoCredential   = errors.New("no credential")
	ErrRefreshFailed  = errors.New("credential refresh failed")
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// Credential is the token material for one user on one provider.
type Credential struct {
	Provider     provider.ID `json:"provider"`
	AccessToken  string      `json:"-"`
	RefreshToken string      `json:"-"`
	// ExpiresAt nil means freshness is unknown; the credential is used until
	// the provider rejects it.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StaleAt reports whether the credential must be refreshed before use at now.
func (c Credential) StaleAt(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-leeway))
}

// HasRefreshToken reports whether a refresh grant is available.
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

func (c Credential) token() provider.Token {
	return provider.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
		Scopes:       c.Scopes,
	}
}

func fromToken(id provider.ID, tok provider.Token, now time.Time) Credential {
	return Credential{
		Provider:     id,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		Scopes:       append([]string(nil), tok.Scopes...),
		UpdatedAt:    now.UTC(),
	}
}

func clone(c Credential) Credential {
	out := c
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		out.ExpiresAt = &exp
	}
	out.Scopes = append([]string(nil), c.Scopes...)
	return out
}

// Store persists credentials keyed by (userID, provider).
type Store interface {
	Get(ctx context.Context, userID string, id provider.ID) (Credential, error)
	Put(ctx context.Context, userID string, c Credential) error
	Delete(ctx context.Context, userID string, id provider.ID) error
	Close() error
}
