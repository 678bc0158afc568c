package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore tracks revoked JWT ids (jti). Entries expire with the
// token itself, so the set never needs manual cleanup.
type RevocationStore struct {
	redis *redis.Client
}

func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{redis: client}
}

func key(jti string) string {
	return "revoked:" + jti
}

// Revoke marks a token id as revoked until its natural expiry.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired; nothing to store.
		return nil
	}
	if err := s.redis.Set(ctx, key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis.Set: %w", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Exists: %w", err)
	}
	return n > 0, nil
}
