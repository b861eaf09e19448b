// Package session keeps the backend access token for the lifetime of the
// process. Nothing is written to disk; logging out or restarting clears it.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no user is logged in.
var ErrNoToken = errors.New("session: not logged in")

// Claims are the token fields the client cares about. The backend verifies
// signatures; the client only reads.
type Claims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Session holds the current access token.
type Session struct {
	mu    sync.RWMutex
	token string
}

// New returns an empty session.
func New() *Session { return &Session{} }

// Token returns the access token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set stores token after login.
func (s *Session) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear forgets the token.
func (s *Session) Clear() { s.Set("") }

// LoggedIn reports whether a token is held.
func (s *Session) LoggedIn() bool { return s.Token() != "" }

// Claims decodes the token payload without verifying its signature.
func (s *Session) Claims() (Claims, error) {
	tok := s.Token()
	if tok == "" {
		return Claims{}, ErrNoToken
	}
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &tc); err != nil {
		return Claims{}, fmt.Errorf("session: decode token: %w", err)
	}
	c := Claims{UserID: tc.Subject, Email: tc.Email}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the token's exp is at or before now. Tokens
// without exp, or that cannot be decoded, are not considered expired; the
// backend is the authority and will reject them.
func (s *Session) Expired(now time.Time) bool {
	c, err := s.Claims()
	if err != nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}
