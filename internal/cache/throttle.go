package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const verificationCooldown = time.Minute

// VerificationThrottle limits how often one user may request a verification
// code. Key format: verify:cooldown:<user_id>, set with the cooldown as TTL.
type VerificationThrottle struct {
	client *redis.Client
}

// NewVerificationThrottle creates a throttle wrapping the given Redis client.
func NewVerificationThrottle(client *redis.Client) *VerificationThrottle {
	return &VerificationThrottle{client: client}
}

// Allow reports whether the user may request a fresh code now. The first call
// inside a cooldown window claims the slot; subsequent calls are rejected
// until the key expires.
func (t *VerificationThrottle) Allow(ctx context.Context, userID int) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.key(userID), "1", verificationCooldown).Result()
	if err != nil {
		return false, fmt.Errorf("throttle check: %w", err)
	}
	return ok, nil
}

func (t *VerificationThrottle) key(userID int) string {
	return fmt.Sprintf("verify:cooldown:%d", userID)
}
