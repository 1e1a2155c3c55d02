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
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridian/veridian/internal/identity"
)

// VerificationRepository implements identity.VerificationRepository on
// Redis. A verification token maps to the user it was minted for and
// disappears on first use or on TTL, whichever comes first.
type VerificationRepository struct {
	store *Store
}

// NewVerificationRepository creates a new email verification repository.
func NewVerificationRepository(store *Store) *VerificationRepository {
	return &VerificationRepository{store: store}
}

// Save stores a verification token for the given user.
func (r *VerificationRepository) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	ok, err := r.store.client.SetNX(ctx, r.store.key(keyKindVerification, token), userID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}
	if !ok {
		return fmt.Errorf("verification token already exists")
	}
	return nil
}

// consumeVerificationScript reads and deletes the token in one atomic
// step so two concurrent clicks on the same link verify at most once.
// Lua false surfaces as redis.Nil on the Go side.
var consumeVerificationScript = redis.NewScript(`
local userID = redis.call('GET', KEYS[1])
if not userID then
	return false
end
redis.call('DEL', KEYS[1])
return userID
`)

// Consume returns the user the token was minted for and deletes it.
func (r *VerificationRepository) Consume(ctx context.Context, token string) (string, error) {
	result, err := consumeVerificationScript.Run(ctx, r.store.client, []string{r.store.key(keyKindVerification, token)}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", identity.ErrVerificationNotFound
		}
		return "", fmt.Errorf("failed to consume verification token: %w", err)
	}
	if result == "" {
		return "", identity.ErrVerificationNotFound
	}
	return result, nil
}
