// Package session tracks server-side login sessions.
//
// A session is a display and audit cache keyed by an opaque id. It never
// authorizes a request on its own; the access token does that.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the session lifetime from creation or from the last extension.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a session is absent or already expired.
var ErrNotFound = errors.New("session: not found")

// ErrInvalidInput rejects empty ids or snapshots without a user id.
var ErrInvalidInput = errors.New("session: invalid input")

// Snapshot is the user data copied into a session when it is written.
type Snapshot struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Session is one server-side login.
type Session struct {
	ID           string    `json:"id"`
	User         Snapshot  `json:"user"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Registry stores sessions keyed by id.
//
// Get returns (nil, nil) for an absent or expired session and refreshes
// LastAccessed on a hit. Update and Extend return ErrNotFound for a session
// that is absent or expired. Destroy is idempotent.
type Registry interface {
	Create(ctx context.Context, id string, user Snapshot) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, user Snapshot) error
	Extend(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

// NewID returns a random URL-safe session id with 256 bits of entropy.
func NewID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newSession(id string, user Snapshot, now time.Time, ttl time.Duration) (*Session, error) {
	if id == "" || user.ID == "" {
		return nil, ErrInvalidInput
	}
	now = now.UTC()
	return &Session{
		ID:           id,
		User:         user,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
	}, nil
}
