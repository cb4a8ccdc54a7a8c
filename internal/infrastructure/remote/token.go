package remote

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the configured bearer token is a JWT whose
// exp claim has passed. Requests are not sent with it.
var ErrTokenExpired = errors.New("remote: bearer token has expired")

// TokenSource hands out the bearer token for backend requests.
//
// The agent does not hold the signing secret, so a JWT is only parsed to read
// its exp claim; the backend remains the one verifying it. Opaque tokens are
// passed through unchanged.
type TokenSource struct {
	mu        sync.RWMutex
	token     string
	expiresAt *time.Time
	now       func() time.Time
}

// NewTokenSource creates a source for token. An empty token disables the
// Authorization header.
func NewTokenSource(token string) *TokenSource {
	ts := &TokenSource{now: time.Now}
	ts.Set(token)
	return ts
}

// Set replaces the token, e.g. after the operator rotates it
func (ts *TokenSource) Set(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = jwtExpiry(token)
}

// Token returns the current token or ErrTokenExpired
func (ts *TokenSource) Token() (string, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.expiresAt != nil && !ts.now().Before(*ts.expiresAt) {
		return "", ErrTokenExpired
	}
	return ts.token, nil
}

// ExpiresAt returns the exp claim of a JWT token, nil for opaque tokens or
// tokens without exp
func (ts *TokenSource) ExpiresAt() *time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt
}

func jwtExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}
