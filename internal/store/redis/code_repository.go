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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridian/veridian/internal/oauth2"
)

// CodeRepository implements oauth2.CodeRepository on Redis. Codes live
// under their own TTL and are never deleted on use: a spent record must
// stay readable so a replay can be told apart from an unknown code and
// can revoke the tokens the first exchange minted.
type CodeRepository struct {
	store *Store
}

// NewCodeRepository creates a new authorization code repository.
func NewCodeRepository(store *Store) *CodeRepository {
	return &CodeRepository{store: store}
}

// Create stores a new authorization code under its remaining lifetime.
func (r *CodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	// SetNX: codes are 256-bit random values, a collision means something
	// is badly wrong and must not silently overwrite another grant.
	ok, err := r.store.client.SetNX(ctx, r.store.key(keyKindAuthCode, code.Code), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return fmt.Errorf("authorization code already exists")
	}

	return nil
}

// Get retrieves an authorization code by its opaque value.
func (r *CodeRepository) Get(ctx context.Context, code string) (*oauth2.AuthorizationCode, error) {
	data, err := r.store.client.Get(ctx, r.store.key(keyKindAuthCode, code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oauth2.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var stored oauth2.AuthorizationCode
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	return &stored, nil
}

// markUsedScript flips the used flag from false to true in one atomic
// step, preserving the record's TTL.
// Returns -1 when the key is gone, 0 when the flag was already set,
// 1 when this caller claimed the code.
var markUsedScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return -1
end
local code = cjson.decode(data)
if code.used then
	return 0
end
code.used = true
code.used_at = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')
return 1
`)

// MarkUsed atomically claims the code. Exactly one of any concurrent
// exchanges gets nil; the rest get oauth2.ErrCodeAlreadyUsed.
func (r *CodeRepository) MarkUsed(ctx context.Context, code string) error {
	key := r.store.key(keyKindAuthCode, code)

	result, err := markUsedScript.Run(ctx, r.store.client, []string{key},
		time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}

	switch result {
	case -1:
		return oauth2.ErrCodeNotFound
	case 0:
		return oauth2.ErrCodeAlreadyUsed
	}
	return nil
}

// attachRefreshTokenScript records the refresh token minted for a spent
// code, preserving the record's TTL. Returns 0 when the key is gone.
var attachRefreshTokenScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
local code = cjson.decode(data)
code.refresh_token = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')
return 1
`)

// AttachRefreshToken links the refresh token minted by an exchange to the
// spent code so a later replay can revoke it.
func (r *CodeRepository) AttachRefreshToken(ctx context.Context, code, refreshToken string) error {
	key := r.store.key(keyKindAuthCode, code)

	result, err := attachRefreshTokenScript.Run(ctx, r.store.client, []string{key}, refreshToken).Int()
	if err != nil {
		return fmt.Errorf("failed to attach refresh token: %w", err)
	}
	if result == 0 {
		return oauth2.ErrCodeNotFound
	}
	return nil
}
