// Package token implements the credential side of the client runtime: the
// Token value, the Bearer/Receiver hierarchy that produces tokens for
// outbound calls, and the background renewal loop that keeps a shared token
// fresh without blocking every caller.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is an immutable credential value. A token without an expiration
// never expires.
type Token struct {
	Secret    string
	ExpiresAt *time.Time
}

// New returns a non-expiring token.
func New(secret string) Token {
	return Token{Secret: secret}
}

// NewWithExpiry returns a token that expires at the given instant.
func NewWithExpiry(secret string, expiresAt time.Time) Token {
	return Token{Secret: secret, ExpiresAt: &expiresAt}
}

// IsExpired reports whether the token has expired as of now.
func (t Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// FreshFor reports whether the token is still valid at now and remains so
// for at least the given margin. A token without an expiration is always
// fresh.
func (t Token) FreshFor(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt == nil {
		return true
	}
	return now.Add(margin).Before(*t.ExpiresAt)
}

// TTL returns the remaining lifetime at now. ok is false when the token
// never expires.
func (t Token) TTL(now time.Time) (d time.Duration, ok bool) {
	if t.ExpiresAt == nil {
		return 0, false
	}
	return t.ExpiresAt.Sub(now), true
}

// Equal compares by secret and expiration instant.
func (t Token) Equal(other Token) bool {
	if t.Secret != other.Secret {
		return false
	}
	if (t.ExpiresAt == nil) != (other.ExpiresAt == nil) {
		return false
	}
	if t.ExpiresAt == nil {
		return true
	}
	return t.ExpiresAt.Equal(*other.ExpiresAt)
}

// IsZero reports whether the token carries no secret.
func (t Token) IsZero() bool {
	return t.Secret == ""
}

// FromJWT builds a Token from a raw JWT, taking the expiration from the exp
// claim. The signature is not verified: the client is not the token's
// audience, it only needs the lifetime.
func FromJWT(raw string) (Token, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return Token{}, fmt.Errorf("parse jwt: %w", err)
	}
	if claims.ExpiresAt == nil {
		return Token{Secret: raw}, nil
	}
	exp := claims.ExpiresAt.Time
	return Token{Secret: raw, ExpiresAt: &exp}, nil
}
