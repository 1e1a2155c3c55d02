// Copyright 2026 The Veridian Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/veridian/veridian/internal/session"
)

const (
	insertSessionSQL = `
		INSERT INTO sessions (id, user_id, ip_address, user_agent, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectSessionSQL = `
		SELECT id, user_id, ip_address, user_agent, created_at, last_seen_at, expires_at
		FROM sessions
		WHERE id = $1`

	touchSessionSQL = `
		UPDATE sessions SET last_seen_at = $2 WHERE id = $1`

	deleteSessionSQL        = `DELETE FROM sessions WHERE id = $1`
	deleteUserSessionsSQL   = `DELETE FROM sessions WHERE user_id = $1`
	deleteExpiredSessionSQL = `DELETE FROM sessions WHERE expires_at < $1`
)

// SessionRepository implements session.Repository on Postgres. user_id
// is empty for anonymous sessions, so the column carries no foreign key.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session row.
func (r *SessionRepository) Create(sess *session.Session) error {
	_, err := r.db.pool.Exec(context.Background(), insertSessionSQL,
		sess.ID, sess.UserID, sess.IPAddress, sess.UserAgent,
		sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads a session by ID.
func (r *SessionRepository) Get(sessionID string) (*session.Session, error) {
	row := r.db.pool.QueryRow(context.Background(), selectSessionSQL, sessionID)

	var sess session.Session
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.IPAddress, &sess.UserAgent,
		&sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	return &sess, nil
}

// Touch records activity on a session.
func (r *SessionRepository) Touch(sessionID string, seenAt time.Time) error {
	tag, err := r.db.pool.Exec(context.Background(), touchSessionSQL, sessionID, seenAt)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session. Deleting an absent session is not an error;
// logout must be idempotent.
func (r *SessionRepository) Delete(sessionID string) error {
	_, err := r.db.pool.Exec(context.Background(), deleteSessionSQL, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUserID removes every session bound to a user.
func (r *SessionRepository) DeleteByUserID(userID string) error {
	_, err := r.db.pool.Exec(context.Background(), deleteUserSessionsSQL, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions past their absolute lifetime.
func (r *SessionRepository) DeleteExpired() (int64, error) {
	tag, err := r.db.pool.Exec(context.Background(), deleteExpiredSessionSQL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
