package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Service provides session lifecycle management
type Service struct {
	repo        Repository
	lifetime    time.Duration
	idleTimeout time.Duration
}

// NewService creates a new session service
func NewService(repo Repository, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
	}
}

// Create mints a session. An empty userID creates an anonymous session
// for pre-login flows.
func (s *Service) Create(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:         generateSessionID(),
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := s.repo.Create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a live session. Expired and idle sessions are deleted on
// read and reported as expired.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	if sess.IsExpired() || sess.IsIdle(s.idleTimeout) {
		_ = s.repo.Delete(sessionID)
		return nil, ErrSessionExpired
	}

	return sess, nil
}

// Refresh slides the idle window by recording activity now.
func (s *Service) Refresh(ctx context.Context, sessionID string) error {
	if err := s.repo.Touch(sessionID, time.Now()); err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// Authenticate replaces a pre-login session with a fresh one bound to
// the user. The session ID changes across login so a fixated pre-login
// cookie buys nothing.
func (s *Service) Authenticate(ctx context.Context, oldSessionID, userID, ipAddress, userAgent string) (*Session, error) {
	sess, err := s.Create(ctx, userID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	if oldSessionID != "" {
		_ = s.repo.Delete(oldSessionID)
	}

	return sess, nil
}

// Destroy deletes a session
func (s *Service) Destroy(ctx context.Context, sessionID string) error {
	return s.repo.Delete(sessionID)
}

// DestroyAll deletes every session belonging to a user
func (s *Service) DestroyAll(ctx context.Context, userID string) error {
	return s.repo.DeleteByUserID(userID)
}

// CleanupExpired removes expired sessions from the store and reports
// how many were purged.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired()
}

// generateSessionID generates a random session identifier
func generateSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
