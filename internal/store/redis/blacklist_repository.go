package redis

import (
	"context"
	"fmt"
	"time"
)

// BlacklistRepository implements oauth2.BlacklistRepository on Redis.
// Revoked access tokens are marked until their natural expiry; after
// that the signature check alone rejects them, so entries never need
// explicit cleanup.
type BlacklistRepository struct {
	store *Store
}

// NewBlacklistRepository creates a new blacklist repository.
func NewBlacklistRepository(store *Store) *BlacklistRepository {
	return &BlacklistRepository{store: store}
}

// Revoke records a token as revoked for ttl. An already-expired token
// needs no entry.
func (r *BlacklistRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	if err := r.store.client.Set(ctx, r.store.key(keyKindBlacklist, token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token has been revoked.
func (r *BlacklistRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := r.store.client.Exists(ctx, r.store.key(keyKindBlacklist, token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}
