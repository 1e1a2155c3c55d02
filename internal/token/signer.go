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

// Package token signs and verifies the JWTs issued by this server.
//
// All tokens are HS256 over a single process-wide secret loaded at
// startup. Verification reports distinct error kinds so callers can map
// an expired token, a forged signature, and a garbled string to
// different protocol errors.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// AccessClaims are the claims carried by an access token. Scopes travel
// as a JSON array so resource endpoints can filter claims without
// re-parsing a scope string.
type AccessClaims struct {
	UserID   string   `json:"user_id"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the given scope
func (c *AccessClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Signer issues and verifies HS256 tokens.
//
// The leeway is applied to exp comparison during verification only and
// is zero unless explicitly configured; issued tokens always carry exact
// expiry.
type Signer struct {
	secret []byte
	leeway time.Duration
}

// NewSigner creates a Signer over the given HS256 secret. leeway relaxes
// expiry comparison during verification; pass zero for strict wall-clock
// semantics.
func NewSigner(secret []byte, leeway time.Duration) *Signer {
	return &Signer{
		secret: secret,
		leeway: leeway,
	}
}

// SignAccessToken mints an access token for the given subject, client,
// and granted scopes, expiring after lifetime.
func (s *Signer) SignAccessToken(userID, clientID string, scopes []string, lifetime time.Duration) (string, error) {
	claims := AccessClaims{
		UserID:   userID,
		ClientID: clientID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(lifetime)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// SignIDToken mints an OIDC ID token (OIDC Core Section 2). The nonce is
// included only when the client supplied one at authorization time.
func (s *Signer) SignIDToken(issuer, subject, audience, nonce string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(lifetime).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// VerifyAccessToken parses and validates an access token, returning its
// claims. The error is one of ErrTokenExpired, ErrSignatureInvalid, or
// ErrTokenMalformed.
func (s *Signer) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
