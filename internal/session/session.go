package session

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Session is a browser session addressed by the cookie value. UserID is
// empty for anonymous sessions minted before login; the authorization
// detour parks its request under one of those.
type Session struct {
	ID         string
	UserID     string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// IsAuthenticated reports whether the session is bound to a user.
func (s *Session) IsAuthenticated() bool {
	return s.UserID != ""
}

// IsExpired reports whether the absolute lifetime has passed.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsIdle reports whether the session sat unused longer than the idle
// window.
func (s *Session) IsIdle(idleTimeout time.Duration) bool {
	return time.Since(s.LastSeenAt) > idleTimeout
}

// Repository persists sessions. Touch is the only mutation after
// creation; everything else about a session is fixed at mint time.
type Repository interface {
	Create(session *Session) error
	Get(sessionID string) (*Session, error)

	// Touch records activity, sliding the idle window.
	Touch(sessionID string, seenAt time.Time) error

	Delete(sessionID string) error
	DeleteByUserID(userID string) error

	// DeleteExpired purges sessions past their absolute lifetime and
	// reports how many were removed.
	DeleteExpired() (int64, error)
}
