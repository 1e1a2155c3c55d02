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

package oidc_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian/veridian/internal/id"
	"github.com/veridian/veridian/internal/oidc"
	"github.com/veridian/veridian/internal/token"
)

const claimsTestIssuer = "https://auth.example.com"

var claimsTestSecret = []byte("claims-test-secret-32-bytes-long")

func newClaimsTestService(lifetime time.Duration) *oidc.Service {
	return oidc.NewService(claimsTestIssuer, token.NewSigner(claimsTestSecret, 0), lifetime)
}

// parseIDToken verifies the HS256 signature and returns the claim map.
func parseIDToken(t *testing.T, tokenString string) jwt.MapClaims {
	t.Helper()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(tok *jwt.Token) (any, error) { return claimsTestSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	require.NoError(t, err, "id_token must verify under the issuing secret")
	return claims
}

// TestPurpose: Validates the registered claims of a fresh id_token against service configuration (OIDC Core Section 2).
// Scope: Unit Test
// Security: Trust Root and Audience Verification
// Expected: iss, sub, and aud match; exp sits exactly one configured lifetime after iat.
func TestOIDC_IDToken_RegisteredClaims(t *testing.T) {
	lifetime := 10 * time.Minute
	svc := newClaimsTestService(lifetime)

	userID := id.NewUUIDv7()
	clientID := id.NewUUIDv7()

	tokenString, err := svc.GenerateIDToken(userID, clientID, "")
	require.NoError(t, err)

	claims := parseIDToken(t, tokenString)
	assert.Equal(t, claimsTestIssuer, claims["iss"])
	assert.Equal(t, userID, claims["sub"])
	assert.Equal(t, clientID, claims["aud"])

	iat, ok := claims["iat"].(float64)
	require.True(t, ok, "iat must be numeric")
	exp, ok := claims["exp"].(float64)
	require.True(t, ok, "exp must be numeric")
	assert.InDelta(t, lifetime.Seconds(), exp-iat, 1,
		"token lifetime must match the configured id_token TTL")
}

// TestPurpose: Verifies that sub is the stable user identifier: constant across issuances, distinct between users.
// Scope: Unit Test
// Security: Identity Stability (prevents account fragmentation at Relying Parties)
// Expected: Same user yields identical sub values; different users never collide.
func TestOIDC_IDToken_SubStability(t *testing.T) {
	svc := newClaimsTestService(10 * time.Minute)

	userA := id.NewUUIDv7()
	userB := id.NewUUIDv7()
	clientID := id.NewUUIDv7()

	first, err := svc.GenerateIDToken(userA, clientID, "")
	require.NoError(t, err)
	second, err := svc.GenerateIDToken(userA, clientID, "")
	require.NoError(t, err)
	other, err := svc.GenerateIDToken(userB, clientID, "")
	require.NoError(t, err)

	subA := parseIDToken(t, first)["sub"]
	assert.Equal(t, userA, subA, "sub must be the user identifier")
	assert.Equal(t, subA, parseIDToken(t, second)["sub"],
		"sub must be stable across issuances for the same user")
	assert.NotEqual(t, subA, parseIDToken(t, other)["sub"],
		"sub must differ between users")
}

// TestPurpose: Verifies nonce handling: echoed when the authorize request carried one, absent otherwise (OIDC Core Section 3.1.2.1).
// Scope: Unit Test
// Security: Replay Attack Prevention
// Expected: The nonce claim equals the provided value; an empty nonce produces no claim at all.
func TestOIDC_IDToken_NonceEcho(t *testing.T) {
	svc := newClaimsTestService(10 * time.Minute)

	tests := []struct {
		name  string
		nonce string
	}{
		{"provided", "random-nonce-12345"},
		{"absent", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenString, err := svc.GenerateIDToken(id.NewUUIDv7(), id.NewUUIDv7(), tt.nonce)
			require.NoError(t, err)

			got, present := parseIDToken(t, tokenString)["nonce"]
			if tt.nonce == "" {
				assert.False(t, present, "empty nonce must not produce a claim")
				return
			}
			assert.Equal(t, tt.nonce, got)
		})
	}
}

// TestPurpose: Verifies an id_token signed under a different secret fails verification.
// Scope: Unit Test
// Security: Signature Integrity (RFC 7515)
// Expected: Parsing under the wrong key reports an invalid signature.
func TestOIDC_IDToken_RejectsForeignSignature(t *testing.T) {
	foreign := oidc.NewService(claimsTestIssuer,
		token.NewSigner([]byte("a-different-signing-secret-32b!!"), 0), 10*time.Minute)

	tokenString, err := foreign.GenerateIDToken(id.NewUUIDv7(), id.NewUUIDv7(), "")
	require.NoError(t, err)

	_, err = jwt.Parse(tokenString,
		func(tok *jwt.Token) (any, error) { return claimsTestSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}
