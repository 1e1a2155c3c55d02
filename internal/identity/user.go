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

package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrWeakPassword         = errors.New("password does not meet security requirements")
	ErrAccountLocked        = errors.New("account is locked")
	ErrVerificationNotFound = errors.New("verification token not found or already used")
)

// User is an account subject. ID is the stable value issued as the sub
// claim; it never changes, while email and username may. DeletedAt set
// means the account is soft-deleted and invisible to every lookup.
type User struct {
	ID                  string
	Email               string
	Username            string
	EmailVerified       bool
	Profile             Profile
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// Profile holds the claims the userinfo endpoint serves under the
// profile scope. The name claim itself comes from User.Username.
type Profile struct {
	GivenName  string
	FamilyName string
	Picture    string
}

// Credentials is the password hash row, kept apart from User so reads
// for token claims never carry hash material.
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository persists accounts. Lookups exclude soft-deleted rows
// and return ErrUserNotFound for absent or deleted users. Email and
// username uniqueness is enforced by the store; the service checks
// first so a duplicate fails before password hashing.
type UserRepository interface {
	Create(user *User) error
	AddCredentials(credentials *Credentials) error

	GetByID(id string) (*User, error)
	GetByEmail(email string) (*User, error)
	GetByUsername(username string) (*User, error)

	Update(user *User) error

	// UpdateLockout writes the failed-attempt counter and lock deadline
	// together; authentication treats the pair as one value.
	UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error

	MarkEmailVerified(userID string) error

	// Delete soft-deletes. The row stays for audit joins, the unique
	// email and username slots free up immediately.
	Delete(id string) error

	GetCredentials(userID string) (*Credentials, error)
	UpdatePassword(userID string, passwordHash string) error
}

// VerificationRepository stores single-use email verification tokens
// under a TTL.
type VerificationRepository interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error

	// Consume returns the user the token was minted for and deletes it
	// atomically, so each token verifies at most once. Returns
	// ErrVerificationNotFound for unknown, expired, or consumed tokens.
	Consume(ctx context.Context, token string) (string, error)
}

// VerificationMailer delivers verification mail (implemented by the
// mailer package).
type VerificationMailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
}
