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

// RefreshTokenRepository implements oauth2.RefreshTokenRepository on
// Redis. The opaque token string is the key; expiry is enforced by TTL
// so revoked-by-rotation and expired tokens are indistinguishable reads.
type RefreshTokenRepository struct {
	store *Store
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(store *Store) *RefreshTokenRepository {
	return &RefreshTokenRepository{store: store}
}

// Create stores a refresh token record under its remaining lifetime.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *oauth2.RefreshToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ok, err := r.store.client.SetNX(ctx, r.store.key(keyKindRefreshToken, token.Token), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	if !ok {
		return fmt.Errorf("refresh token already exists")
	}

	return nil
}

// Get retrieves a refresh token record by its opaque value.
func (r *RefreshTokenRepository) Get(ctx context.Context, token string) (*oauth2.RefreshToken, error) {
	data, err := r.store.client.Get(ctx, r.store.key(keyKindRefreshToken, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oauth2.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var stored oauth2.RefreshToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	// The token string is the key, not part of the stored record.
	stored.Token = token

	return &stored, nil
}

// Delete removes a refresh token record. Rotation calls this before
// minting a successor; the deleted count tells a won race from a lost one.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	deleted, err := r.store.client.Del(ctx, r.store.key(keyKindRefreshToken, token)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	if deleted == 0 {
		return oauth2.ErrRefreshTokenNotFound
	}
	return nil
}
