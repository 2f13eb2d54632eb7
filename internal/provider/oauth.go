package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// OAuthConfig holds the client registration for one provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantID only applies to Microsoft; empty means "common".
	TenantID string
	// Endpoint overrides the provider default (tests, sovereign clouds).
	Endpoint   *oauth2.Endpoint
	HTTPClient *http.Client
}

// oauthAdapter is the shared authorization-code implementation. Provider
// differences live entirely in the oauth2.Config and auth URL options.
type oauthAdapter struct {
	id      ID
	conf    *oauth2.Config
	urlOpts []oauth2.AuthCodeOption
	client  *http.Client
}

var microsoftScopes = []string{
	"offline_access",
	"User.Read",
	"Mail.Read",
	"Mail.Send",
	"Files.ReadWrite",
	"Tasks.ReadWrite",
	"Calendars.ReadWrite",
}

var googleScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/tasks",
}

// DefaultScopes returns the scopes requested during authorization.
func DefaultScopes(id ID) []string {
	switch id {
	case Microsoft:
		return append([]string(nil), microsoftScopes...)
	case Google:
		return append([]string(nil), googleScopes...)
	default:
		return nil
	}
}

// NewMicrosoft builds the Azure AD v2 adapter.
func NewMicrosoft(cfg OAuthConfig) Adapter {
	tenant := strings.TrimSpace(cfg.TenantID)
	if tenant == "" {
		tenant = "common"
	}
	endpoint := endpoints.AzureAD(tenant)
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &oauthAdapter{
		id: Microsoft,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       microsoftScopes,
		},
		urlOpts: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("response_mode", "query"),
		},
		client: cfg.HTTPClient,
	}
}

// NewGoogle builds the Google adapter. Offline access with forced consent
// makes Google issue a refresh token on every authorization.
func NewGoogle(cfg OAuthConfig) Adapter {
	endpoint := endpoints.Google
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &oauthAdapter{
		id: Google,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       googleScopes,
		},
		urlOpts: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("include_granted_scopes", "true"),
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
		client: cfg.HTTPClient,
	}
}

func (a *oauthAdapter) ID() ID { return a.id }

func (a *oauthAdapter) AuthorizationURL(state string) string {
	return a.conf.AuthCodeURL(state, a.urlOpts...)
}

func (a *oauthAdapter) Exchange(ctx context.Context, code string) (Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, fmt.Errorf("%s exchange: empty authorization code", a.id)
	}
	tok, err := a.conf.Exchange(a.withClient(ctx), code)
	if err != nil {
		return Token{}, fmt.Errorf("%s exchange: %w", a.id, classifyOAuthError(err))
	}
	return a.fromOAuth(tok, nil), nil
}

func (a *oauthAdapter) Refresh(ctx context.Context, token Token) (Token, error) {
	if strings.TrimSpace(token.RefreshToken) == "" {
		return Token{}, fmt.Errorf("%s refresh: %w", a.id, ErrNoRefreshToken)
	}
	// An empty access token forces the source to hit the token endpoint.
	src := a.conf.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("%s refresh: %w", a.id, classifyOAuthError(err))
	}
	out := a.fromOAuth(tok, token.Scopes)
	if out.RefreshToken == "" {
		out.RefreshToken = token.RefreshToken
	}
	return out, nil
}

func (a *oauthAdapter) withClient(ctx context.Context) context.Context {
	if a.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.client)
}

func (a *oauthAdapter) fromOAuth(tok *oauth2.Token, fallbackScopes []string) Token {
	out := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       fallbackScopes,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.ExpiresAt = &exp
	}
	if raw, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		out.Scopes = strings.Fields(raw)
	}
	return out
}

// classifyOAuthError tags token endpoint refusals (an OAuth error code, or a
// 400/401 without one) as ErrProviderRejected. Outages, throttling, the
// RFC 6749 server_error/temporarily_unavailable codes and transport failures
// come back untagged.
func classifyOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	transient := re.ErrorCode == "temporarily_unavailable" || re.ErrorCode == "server_error"
	if transient || (re.ErrorCode == "" && status != http.StatusBadRequest && status != http.StatusUnauthorized) {
		return fmt.Errorf("token endpoint status %d: %w", status, err)
	}
	code := re.ErrorCode
	if code == "" {
		code = http.StatusText(status)
	}
	return fmt.Errorf("%w: %s %s", ErrProviderRejected, code, strings.TrimSpace(re.ErrorDescription))
}

// ExpiryIn is a small helper for adapters that only know a lifetime.
func ExpiryIn(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := now.Add(d).UTC()
	return &t
}
