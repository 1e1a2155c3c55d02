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

package oauth2

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrClientNotFound       = errors.New("client not found")
	ErrClientInactive       = errors.New("client is not active")
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrCodeExpired          = errors.New("authorization code expired")
	ErrCodeAlreadyUsed      = errors.New("authorization code already used")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrContextNotFound      = errors.New("authorize context not found")
)

// Standard OIDC scopes
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// Client represents a registered OAuth2 client application (Relying Party).
// ID is the storage primary key; ClientID is the public identifier that
// appears on the wire and inside tokens.
type Client struct {
	ID           string
	ClientID     string
	Name         string
	SecretHash   string
	RedirectURIs []string
	Scopes       []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidateRedirectURI checks if a redirect URI is registered for this
// client. Comparison is done on the normalized form of both sides.
func (c *Client) ValidateRedirectURI(uri string) bool {
	presented := NormalizeRedirectURI(uri)
	for _, registered := range c.RedirectURIs {
		if NormalizeRedirectURI(registered) == presented {
			return true
		}
	}
	return false
}

// AllowedScopes returns the intersection of the requested scopes with the
// client's registered scopes, preserving request order. An empty result
// means the request must be rejected with invalid_scope.
func (c *Client) AllowedScopes(requested []string) []string {
	var granted []string
	for _, scope := range requested {
		for _, allowed := range c.Scopes {
			if scope == allowed {
				granted = append(granted, scope)
				break
			}
		}
	}
	return granted
}

// ParseScopes splits a space-delimited scope string (RFC 6749 Section 3.3)
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes renders a scope list back to its space-delimited wire form
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsScope reports whether a space-delimited scope string includes
// the given scope
func ContainsScope(scope, target string) bool {
	for _, s := range ParseScopes(scope) {
		if s == target {
			return true
		}
	}
	return false
}

// AuthorizationCode represents a single-use OAuth2 authorization grant.
// It lives in the grant store under TTL and carries everything bound at
// issuance that the token endpoint must re-check.
type AuthorizationCode struct {
	Code                string     `json:"code"`
	ClientID            string     `json:"client_id"`
	UserID              string     `json:"user_id"`
	RedirectURI         string     `json:"redirect_uri"`
	Scope               string     `json:"scope"`
	Nonce               string     `json:"nonce,omitempty"`
	CodeChallenge       string     `json:"code_challenge,omitempty"`
	CodeChallengeMethod string     `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	Used                bool       `json:"used"`
	UsedAt              *time.Time `json:"used_at,omitempty"`

	// RefreshToken records the refresh token minted when this code was
	// exchanged. A replayed code revokes it (RFC 6749 Section 4.1.2:
	// compromised codes invalidate previously issued tokens).
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsExpired checks if the authorization code has expired
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// RefreshToken represents a stored refresh token grant. The opaque token
// string itself is the storage key; the record carries what a refresh
// exchange needs to mint new tokens.
type RefreshToken struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired checks if the refresh token has expired
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// AuthorizeContext carries an in-progress authorize request across a login
// detour. It is stored against the user's session and expires AUTH_CODE_TTL
// after Timestamp, so a stale login cannot resurrect an old request.
type AuthorizeContext struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	State               string    `json:"state,omitempty"`
	Scope               string    `json:"scope"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// IsExpired checks whether the stored context has outlived the given TTL
func (a *AuthorizeContext) IsExpired(ttl time.Duration) bool {
	return time.Since(a.Timestamp) > ttl
}

// ClientRepository defines the interface for client persistence
type ClientRepository interface {
	// Create creates a new OAuth2 client
	Create(client *Client) error

	// GetByClientID retrieves a client by its public client_id
	GetByClientID(clientID string) (*Client, error)

	// Update updates client information
	Update(client *Client) error

	// Delete removes a client
	Delete(clientID string) error

	// List retrieves registered clients
	List(limit, offset int) ([]*Client, error)
}

// CodeRepository defines the grant-store interface for authorization codes
type CodeRepository interface {
	// Create stores a new authorization code under its remaining TTL
	Create(ctx context.Context, code *AuthorizationCode) error

	// Get retrieves an authorization code by its opaque value.
	// Returns ErrCodeNotFound if absent or expired out of the store.
	Get(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkUsed atomically flips the used flag from false to true.
	// Returns ErrCodeAlreadyUsed when the flag was already set, so exactly
	// one of any concurrent exchanges wins.
	MarkUsed(ctx context.Context, code string) error

	// AttachRefreshToken records the refresh token minted for this code,
	// preserving the record's TTL, so a later replay can revoke it
	AttachRefreshToken(ctx context.Context, code, refreshToken string) error
}

// RefreshTokenRepository defines the grant-store interface for refresh tokens
type RefreshTokenRepository interface {
	// Create stores a refresh token record under its remaining TTL
	Create(ctx context.Context, token *RefreshToken) error

	// Get retrieves a refresh token record by its opaque value.
	// Returns ErrRefreshTokenNotFound if absent or expired out of the store.
	Get(ctx context.Context, token string) (*RefreshToken, error)

	// Delete removes a refresh token record. Returns
	// ErrRefreshTokenNotFound when nothing was deleted, so rotation can
	// tell a won race from a lost one before minting a successor.
	Delete(ctx context.Context, token string) error
}

// BlacklistRepository defines the grant-store interface for revoked
// access tokens
type BlacklistRepository interface {
	// Revoke records an access token as revoked for the given TTL,
	// which callers set to the token's remaining lifetime
	Revoke(ctx context.Context, token string, ttl time.Duration) error

	// IsRevoked reports whether an access token has been revoked
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthorizeContextRepository defines the grant-store interface for
// parked authorize requests
type AuthorizeContextRepository interface {
	// Save stores the in-progress authorize request for a login detour
	Save(ctx context.Context, sessionID string, authCtx *AuthorizeContext) error

	// Get retrieves a parked authorize request.
	// Returns ErrContextNotFound if absent or expired out of the store.
	Get(ctx context.Context, sessionID string) (*AuthorizeContext, error)

	// Delete removes a parked authorize request
	Delete(ctx context.Context, sessionID string) error
}
