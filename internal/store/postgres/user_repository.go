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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/veridian/veridian/internal/identity"
)

const (
	insertUserSQL = `
		INSERT INTO users (id, email, username, email_verified,
			given_name, family_name, picture, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectUserSQL = `
		SELECT id, email, username, email_verified,
			given_name, family_name, picture,
			failed_login_attempts, locked_until,
			created_at, updated_at, deleted_at
		FROM users`

	updateUserSQL = `
		UPDATE users SET email = $2, username = $3, email_verified = $4,
			given_name = $5, family_name = $6, picture = $7, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	updateLockoutSQL = `
		UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1`

	markVerifiedSQL = `
		UPDATE users SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	softDeleteUserSQL = `
		UPDATE users SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	insertCredentialsSQL = `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)`

	selectCredentialsSQL = `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1`

	updatePasswordSQL = `
		UPDATE credentials SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1`
)

// UserRepository implements identity.UserRepository on Postgres. Users
// are soft-deleted; every read filters on deleted_at IS NULL so a
// deleted account is indistinguishable from a missing one.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the identity row. Credentials are stored separately
// via AddCredentials so a half-registered user never has a password.
func (r *UserRepository) Create(user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(context.Background(), insertUserSQL,
		user.ID, user.Email, user.Username, user.EmailVerified,
		user.Profile.GivenName, user.Profile.FamilyName, user.Profile.Picture,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// AddCredentials stores the password hash for a user.
func (r *UserRepository) AddCredentials(credentials *identity.Credentials) error {
	now := time.Now()
	_, err := r.db.pool.Exec(context.Background(), insertCredentialsSQL,
		credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("insert credentials: %w", err)
	}

	credentials.UpdatedAt = now
	return nil
}

// scanUser maps one users row onto an identity.User, converting the
// nullable lockout and soft-delete columns.
func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	var lockedUntil, deletedAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.EmailVerified,
		&user.Profile.GivenName, &user.Profile.FamilyName, &user.Profile.Picture,
		&user.FailedLoginAttempts, &lockedUntil,
		&user.CreatedAt, &user.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if lockedUntil.Valid {
		user.LockedUntil = &lockedUntil.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return &user, nil
}

func (r *UserRepository) getBy(where string, arg any) (*identity.User, error) {
	row := r.db.pool.QueryRow(context.Background(),
		selectUserSQL+" WHERE "+where+" AND deleted_at IS NULL", arg)
	return scanUser(row)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(id string) (*identity.User, error) {
	return r.getBy("id = $1", id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(email string) (*identity.User, error) {
	return r.getBy("email = $1", email)
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(username string) (*identity.User, error) {
	return r.getBy("username = $1", username)
}

// Update persists profile and verification changes.
func (r *UserRepository) Update(user *identity.User) error {
	tag, err := r.db.pool.Exec(context.Background(), updateUserSQL,
		user.ID, user.Email, user.Username, user.EmailVerified,
		user.Profile.GivenName, user.Profile.FamilyName, user.Profile.Picture,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdateLockout writes the failed-attempt counter and lock expiry. A nil
// lockedUntil clears the lock.
func (r *UserRepository) UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error {
	_, err := r.db.pool.Exec(context.Background(), updateLockoutSQL,
		userID, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("update lockout: %w", err)
	}
	return nil
}

// MarkEmailVerified flips the verified flag
func (r *UserRepository) MarkEmailVerified(userID string) error {
	tag, err := r.db.pool.Exec(context.Background(), markVerifiedSQL, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Delete soft-deletes a user, releasing its email and username for reuse.
func (r *UserRepository) Delete(id string) error {
	tag, err := r.db.pool.Exec(context.Background(), softDeleteUserSQL, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// GetCredentials retrieves the stored password hash for a user.
func (r *UserRepository) GetCredentials(userID string) (*identity.Credentials, error) {
	var creds identity.Credentials
	err := r.db.pool.QueryRow(context.Background(), selectCredentialsSQL, userID).
		Scan(&creds.UserID, &creds.PasswordHash, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("select credentials: %w", err)
	}
	return &creds, nil
}

// UpdatePassword replaces the stored hash.
func (r *UserRepository) UpdatePassword(userID string, passwordHash string) error {
	tag, err := r.db.pool.Exec(context.Background(), updatePasswordSQL, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}
