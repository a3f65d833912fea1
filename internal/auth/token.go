// Package auth issues and verifies the HS256 access tokens that identify chat users.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/leaguechat/internal/errs"
)

// Claims are the access token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Identity is the authenticated user.
type Identity struct {
	UserID string
	Name   string
}

// Issuer signs access tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an issuer signing with key; tokens live for ttl.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for the user.
func (i *Issuer) Issue(userID uuid.UUID, name string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: name,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.key)
	return signed, exp, err
}

// Verifier checks access tokens.
type Verifier struct {
	key    []byte
	leeway time.Duration
}

// NewVerifier returns a verifier for tokens signed with key.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key, leeway: 30 * time.Second}
}

// Verify checks signature and validity window and returns the identity.
// Every failure wraps errs.ErrUnauthorized.
func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("bad subject: %w", errs.ErrUnauthorized)
	}
	return Identity{UserID: id.String(), Name: claims.Name}, nil
}

// Inspect reads the claims of token without verifying the signature. Clients
// use it to learn their own identity from a token they were handed.
func Inspect(token string) (Identity, time.Time, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, time.Time{}, errors.New("token has no subject")
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, exp, nil
}

// FromHeader extracts the token of an "Authorization: Bearer <token>" value.
func FromHeader(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
