// Package authn issues and verifies the service's own bearer tokens and
// tracks single-use OAuth state values.
package authn

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antoniostano/workmate/internal/provider"
)

var ErrInvalidToken = errors.New("invalid access token")

const issuerName = "workmate"

// Identity is the caller a verified token speaks for.
type Identity struct {
	UserID   string
	Platform provider.ID
}

type claims struct {
	Platform provider.ID `json:"platform"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 app tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime of newly issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Issue(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("issue token: empty user id")
	}
	now := i.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Platform: id.Platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Verify(raw string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: c.Subject, Platform: c.Platform}, nil
}
