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

package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian/veridian/internal/identity"
	"github.com/veridian/veridian/internal/oauth2"
	redisstore "github.com/veridian/veridian/internal/store/redis"
)

// newTestStore spins up a miniredis instance and the grant store on top
// of it. The miniredis clock only advances via FastForward, which is what
// the TTL tests rely on.
func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.NewWithClient(client, "veridian:"), mr
}

func testAuthCode(code string) *oauth2.AuthorizationCode {
	now := time.Now()
	return &oauth2.AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		UserID:              "user-1",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "openid email",
		Nonce:               "n-0S6_WzA2Mj",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		IssuedAt:            now,
		ExpiresAt:           now.Add(60 * time.Second),
	}
}

// =============================================================================
// AUTHORIZATION CODE REPOSITORY
// =============================================================================

// TestPurpose: Validates that a stored authorization code survives the round trip with every bound parameter intact.
// Scope: Store Test
// Security: Parameter Binding (token endpoint re-checks issuance-time bindings)
// Expected: All fields match after Create followed by Get.
func TestCodeRepository_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	code := testAuthCode("code-roundtrip")
	require.NoError(t, repo.Create(ctx, code))

	got, err := repo.Get(ctx, "code-roundtrip")
	require.NoError(t, err)

	assert.Equal(t, code.Code, got.Code)
	assert.Equal(t, code.ClientID, got.ClientID)
	assert.Equal(t, code.UserID, got.UserID)
	assert.Equal(t, code.RedirectURI, got.RedirectURI)
	assert.Equal(t, code.Scope, got.Scope)
	assert.Equal(t, code.Nonce, got.Nonce)
	assert.Equal(t, code.CodeChallenge, got.CodeChallenge)
	assert.Equal(t, code.CodeChallengeMethod, got.CodeChallengeMethod)
	assert.False(t, got.Used, "freshly stored code must not be marked used")
	assert.Nil(t, got.UsedAt)
}

// TestPurpose: Validates that an unknown code returns the domain not-found error rather than a raw store error.
// Scope: Store Test
// Expected: oauth2.ErrCodeNotFound.
func TestCodeRepository_GetUnknown_ReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, oauth2.ErrCodeNotFound)
}

// TestPurpose: Validates that a code whose expiry already passed is rejected at Create.
// Scope: Store Test
// Expected: Create returns an error; nothing is stored.
func TestCodeRepository_CreateExpired_Fails(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	code := testAuthCode("code-expired")
	code.ExpiresAt = time.Now().Add(-time.Second)

	assert.Error(t, repo.Create(ctx, code))

	_, err := repo.Get(ctx, "code-expired")
	assert.ErrorIs(t, err, oauth2.ErrCodeNotFound)
}

// TestPurpose: Validates the compare-and-set on the used flag: the first claim wins, later claims see the spent state.
// Scope: Store Test
// Security: Single-Use Enforcement (RFC 6749 Section 4.1.2)
// Expected: First MarkUsed nil, second ErrCodeAlreadyUsed, unknown code ErrCodeNotFound.
func TestCodeRepository_MarkUsed_ClaimsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testAuthCode("code-cas")))

	assert.NoError(t, repo.MarkUsed(ctx, "code-cas"))
	assert.ErrorIs(t, repo.MarkUsed(ctx, "code-cas"), oauth2.ErrCodeAlreadyUsed)
	assert.ErrorIs(t, repo.MarkUsed(ctx, "missing"), oauth2.ErrCodeNotFound)

	got, err := repo.Get(ctx, "code-cas")
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UsedAt)
}

// TestPurpose: Validates that concurrent claims on one code yield exactly one winner.
// Scope: Store Test (concurrency)
// Security: Double-Spend Prevention under race
// Expected: Exactly 1 nil result, the rest ErrCodeAlreadyUsed.
func TestCodeRepository_MarkUsed_ConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testAuthCode("code-race")))

	const attempts = 16
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = repo.MarkUsed(ctx, "code-race")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, oauth2.ErrCodeAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent exchange may claim the code")
}

// TestPurpose: Validates that marking a code used preserves its TTL instead of resetting it.
// Scope: Store Test
// Security: A spent code must not outlive its original window.
// Expected: Code is gone after the original TTL elapses, used flag notwithstanding.
func TestCodeRepository_MarkUsed_PreservesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testAuthCode("code-ttl")))
	require.NoError(t, repo.MarkUsed(ctx, "code-ttl"))

	mr.FastForward(61 * time.Second)

	_, err := repo.Get(ctx, "code-ttl")
	assert.ErrorIs(t, err, oauth2.ErrCodeNotFound)
}

// TestPurpose: Validates that the minted refresh token can be attached to a spent code and read back by a replay check.
// Scope: Store Test
// Security: Replay Revocation linkage
// Expected: RefreshToken field populated after AttachRefreshToken; unknown code returns ErrCodeNotFound.
func TestCodeRepository_AttachRefreshToken(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewCodeRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testAuthCode("code-attach")))
	require.NoError(t, repo.MarkUsed(ctx, "code-attach"))
	require.NoError(t, repo.AttachRefreshToken(ctx, "code-attach", "rt-successor"))

	got, err := repo.Get(ctx, "code-attach")
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, "rt-successor", got.RefreshToken)

	assert.ErrorIs(t, repo.AttachRefreshToken(ctx, "missing", "rt"), oauth2.ErrCodeNotFound)
}

// =============================================================================
// REFRESH TOKEN REPOSITORY
// =============================================================================

// TestPurpose: Validates the refresh token round trip and that the opaque token string is restored from the key.
// Scope: Store Test
// Expected: Stored record matches, Token field set on read.
func TestRefreshRepository_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewRefreshTokenRepository(store)
	ctx := context.Background()

	now := time.Now()
	rt := &oauth2.RefreshToken{
		Token:     "rt-roundtrip",
		UserID:    "user-1",
		ClientID:  "client-1",
		Scope:     "openid email",
		ExpiresAt: now.Add(720 * time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, rt))

	got, err := repo.Get(ctx, "rt-roundtrip")
	require.NoError(t, err)
	assert.Equal(t, "rt-roundtrip", got.Token)
	assert.Equal(t, rt.UserID, got.UserID)
	assert.Equal(t, rt.ClientID, got.ClientID)
	assert.Equal(t, rt.Scope, got.Scope)
}

// TestPurpose: Validates that rotation's delete-before-mint sees a definitive outcome: deleting a token twice fails the second time.
// Scope: Store Test
// Security: Rotation race arbitration (the delete count decides the winner)
// Expected: First Delete nil, second Delete ErrRefreshTokenNotFound, Get after delete ErrRefreshTokenNotFound.
func TestRefreshRepository_DeleteOnce(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewRefreshTokenRepository(store)
	ctx := context.Background()

	rt := &oauth2.RefreshToken{
		Token:     "rt-rotate",
		UserID:    "user-1",
		ClientID:  "client-1",
		Scope:     "openid",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(ctx, rt))

	assert.NoError(t, repo.Delete(ctx, "rt-rotate"))
	assert.ErrorIs(t, repo.Delete(ctx, "rt-rotate"), oauth2.ErrRefreshTokenNotFound)

	_, err := repo.Get(ctx, "rt-rotate")
	assert.ErrorIs(t, err, oauth2.ErrRefreshTokenNotFound)
}

// TestPurpose: Validates that the store expires refresh tokens on its own once their lifetime passes.
// Scope: Store Test
// Expected: Get returns ErrRefreshTokenNotFound after the TTL elapses.
func TestRefreshRepository_ExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	repo := redisstore.NewRefreshTokenRepository(store)
	ctx := context.Background()

	rt := &oauth2.RefreshToken{
		Token:     "rt-ttl",
		UserID:    "user-1",
		ClientID:  "client-1",
		Scope:     "openid",
		ExpiresAt: time.Now().Add(time.Minute),
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Create(ctx, rt))

	mr.FastForward(2 * time.Minute)

	_, err := repo.Get(ctx, "rt-ttl")
	assert.ErrorIs(t, err, oauth2.ErrRefreshTokenNotFound)
}

// =============================================================================
// BLACKLIST REPOSITORY
// =============================================================================

// TestPurpose: Validates revocation visibility and automatic cleanup at natural token expiry.
// Scope: Store Test
// Security: Revocation blacklist semantics
// Expected: IsRevoked true within ttl, false after ttl elapses, false for unknown tokens.
func TestBlacklistRepository_RevokeAndExpire(t *testing.T) {
	store, mr := newTestStore(t)
	repo := redisstore.NewBlacklistRepository(store)
	ctx := context.Background()

	revoked, err := repo.IsRevoked(ctx, "unknown-token")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.Revoke(ctx, "jwt-abc", 30*time.Second))

	revoked, err = repo.IsRevoked(ctx, "jwt-abc")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Past natural expiry the signature check alone rejects the token;
	// the blacklist entry lapses with it.
	mr.FastForward(31 * time.Second)

	revoked, err = repo.IsRevoked(ctx, "jwt-abc")
	require.NoError(t, err)
	assert.False(t, revoked)
}

// TestPurpose: Validates that revoking an already-expired token is a no-op rather than an unbounded store entry.
// Scope: Store Test
// Expected: Revoke with zero/negative ttl stores nothing.
func TestBlacklistRepository_NonPositiveTTL_NoOp(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewBlacklistRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Revoke(ctx, "jwt-expired", 0))
	require.NoError(t, repo.Revoke(ctx, "jwt-older", -time.Minute))

	revoked, err := repo.IsRevoked(ctx, "jwt-expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}

// =============================================================================
// AUTHORIZE CONTEXT REPOSITORY
// =============================================================================

// TestPurpose: Validates the parked-request lifecycle: save, read back, delete, and the overwrite rule for a second authorize from the same session.
// Scope: Store Test
// Security: Login detour continuity without parameter tampering
// Expected: Round trip intact; second Save replaces the first; Get after Delete returns ErrContextNotFound.
func TestContextRepository_Lifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewContextRepository(store, 60*time.Second)
	ctx := context.Background()

	authCtx := &oauth2.AuthorizeContext{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example.com/callback",
		State:               "xyz",
		Scope:               "openid email",
		Nonce:               "n-1",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		Timestamp:           time.Now(),
	}
	require.NoError(t, repo.Save(ctx, "sess-1", authCtx))

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, authCtx.ClientID, got.ClientID)
	assert.Equal(t, authCtx.State, got.State)
	assert.Equal(t, authCtx.CodeChallenge, got.CodeChallenge)

	// A second authorize from the same session replaces the parked request.
	second := *authCtx
	second.State = "replaced"
	require.NoError(t, repo.Save(ctx, "sess-1", &second))

	got, err = repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.State)

	require.NoError(t, repo.Delete(ctx, "sess-1"))
	_, err = repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, oauth2.ErrContextNotFound)

	// Deleting what the TTL already reaped must stay silent.
	assert.NoError(t, repo.Delete(ctx, "sess-1"))
}

// TestPurpose: Validates that a parked request lapses with the authorization code TTL.
// Scope: Store Test
// Security: A slow login cannot resurrect a stale authorize request.
// Expected: Get returns ErrContextNotFound after the TTL elapses.
func TestContextRepository_ExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	repo := redisstore.NewContextRepository(store, 60*time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-ttl", &oauth2.AuthorizeContext{
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/callback",
		Scope:       "openid",
		Timestamp:   time.Now(),
	}))

	mr.FastForward(61 * time.Second)

	_, err := repo.Get(ctx, "sess-ttl")
	assert.ErrorIs(t, err, oauth2.ErrContextNotFound)
}

// =============================================================================
// EMAIL VERIFICATION REPOSITORY
// =============================================================================

// TestPurpose: Validates that a verification token resolves exactly once and then disappears.
// Scope: Store Test
// Security: Single-Use Verification Links
// Expected: First Consume returns the user, second returns ErrVerificationNotFound.
func TestVerificationRepository_ConsumeOnce(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewVerificationRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "verify-tok", "user-42", 24*time.Hour))

	userID, err := repo.Consume(ctx, "verify-tok")
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	_, err = repo.Consume(ctx, "verify-tok")
	assert.ErrorIs(t, err, identity.ErrVerificationNotFound)
}

// TestPurpose: Validates that concurrent clicks on one verification link verify at most once.
// Scope: Store Test (concurrency)
// Expected: Exactly one Consume succeeds.
func TestVerificationRepository_ConcurrentConsume(t *testing.T) {
	store, _ := newTestStore(t)
	repo := redisstore.NewVerificationRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "verify-race", "user-42", time.Hour))

	const attempts = 8
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = repo.Consume(ctx, "verify-race")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, identity.ErrVerificationNotFound)
		}
	}
	assert.Equal(t, 1, winners)
}

// TestPurpose: Validates that unknown and expired verification tokens are indistinguishable from consumed ones.
// Scope: Store Test
// Expected: ErrVerificationNotFound in both cases.
func TestVerificationRepository_UnknownAndExpired(t *testing.T) {
	store, mr := newTestStore(t)
	repo := redisstore.NewVerificationRepository(store)
	ctx := context.Background()

	_, err := repo.Consume(ctx, "never-existed")
	assert.ErrorIs(t, err, identity.ErrVerificationNotFound)

	require.NoError(t, repo.Save(ctx, "verify-ttl", "user-42", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err = repo.Consume(ctx, "verify-ttl")
	assert.ErrorIs(t, err, identity.ErrVerificationNotFound)
}

// TestPurpose: Validates that every key the store writes carries the configured prefix, keeping a shared Redis partitionable.
// Scope: Store Test
// Expected: All keys start with "veridian:".
func TestStore_KeyPrefixApplied(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, redisstore.NewCodeRepository(store).Create(ctx, testAuthCode("prefixed")))
	require.NoError(t, redisstore.NewBlacklistRepository(store).Revoke(ctx, "jwt-x", time.Minute))
	require.NoError(t, redisstore.NewVerificationRepository(store).Save(ctx, "tok-x", "user-1", time.Minute))

	for _, key := range mr.Keys() {
		assert.Regexp(t, "^veridian:", key)
	}
	assert.True(t, mr.Exists("veridian:auth_code:prefixed"))
	assert.True(t, mr.Exists("veridian:blacklisted_token:jwt-x"))
	assert.True(t, mr.Exists("veridian:email_verification:tok-x"))
}
