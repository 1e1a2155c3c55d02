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

// ContextRepository implements oauth2.AuthorizeContextRepository on Redis.
// It parks a validated authorize request while the user completes login,
// keyed by session so a login detour picks up exactly the request it
// interrupted.
type ContextRepository struct {
	store *Store
	ttl   time.Duration
}

// NewContextRepository creates a new parked-request repository. ttl is the
// authorization code lifetime; a login that takes longer than a code would
// have lived must restart the flow.
func NewContextRepository(store *Store, ttl time.Duration) *ContextRepository {
	return &ContextRepository{store: store, ttl: ttl}
}

// Save stores the in-progress authorize request against the session. A
// second authorize from the same session overwrites the first; only the
// most recent detour can be resumed.
func (r *ContextRepository) Save(ctx context.Context, sessionID string, authCtx *oauth2.AuthorizeContext) error {
	data, err := json.Marshal(authCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal authorize context: %w", err)
	}

	if err := r.store.client.Set(ctx, r.store.key(keyKindAuthorizeCtx, sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store authorize context: %w", err)
	}
	return nil
}

// Get retrieves the parked authorize request for a session.
func (r *ContextRepository) Get(ctx context.Context, sessionID string) (*oauth2.AuthorizeContext, error) {
	data, err := r.store.client.Get(ctx, r.store.key(keyKindAuthorizeCtx, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oauth2.ErrContextNotFound
		}
		return nil, fmt.Errorf("failed to get authorize context: %w", err)
	}

	var stored oauth2.AuthorizeContext
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorize context: %w", err)
	}

	return &stored, nil
}

// Delete removes the parked request. Deleting an absent key is not an
// error; resume must stay idempotent when the TTL beat it to the cleanup.
func (r *ContextRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.store.client.Del(ctx, r.store.key(keyKindAuthorizeCtx, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete authorize context: %w", err)
	}
	return nil
}
