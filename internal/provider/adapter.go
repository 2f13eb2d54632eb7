// Package provider implements the per-provider authorization flows behind a
// single Adapter capability set. Callers select an Adapter once through the
// Registry and never branch on the provider afterwards.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ID names a supported productivity backend.
type ID string

const (
	Microsoft ID = "microsoft"
	Google    ID = "google"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoRefreshToken means refresh was requested for a token that never
	// carried a refresh grant. This is a caller bug, not a user action item.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrProviderRejected means the provider refused the grant; the end user
	// has to authorize again.
	ErrProviderRejected = errors.New("provider rejected grant")
)

// ParseID normalizes a user supplied provider name.
func ParseID(raw string) (ID, error) {
	switch ID(strings.ToLower(strings.TrimSpace(raw))) {
	case Microsoft:
		return Microsoft, nil
	case Google:
		return Google, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
}

// Token is the raw grant material an Adapter hands back.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Adapter is the capability set every provider exposes to the credential manager.
type Adapter interface {
	ID() ID
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (Token, error)
	Refresh(ctx context.Context, token Token) (Token, error)
}

// Registry maps provider IDs to their adapters.
type Registry struct {
	adapters map[ID]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.ID()] = a
	}
	return r
}

func (r *Registry) Get(id ID) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return a, nil
}

// IDs returns the registered provider IDs in stable order.
func (r *Registry) IDs() []ID {
	out := make([]ID, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
