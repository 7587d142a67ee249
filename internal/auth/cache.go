package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const grantKeyPrefix = "grants:"

// GrantCache keeps per-user grant snapshots in Redis so the live authorizer
// does not hit Postgres on every request. Entries are TTL-bounded and
// invalidated by grant mutations.
type GrantCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGrantCache wraps a Redis client. TTL must be positive.
func NewGrantCache(client *redis.Client, ttl time.Duration) *GrantCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &GrantCache{client: client, ttl: ttl}
}

// Get returns the cached grant snapshot for the user. The second result is
// false on a miss; cache trouble is reported as a miss plus an error so the
// caller can fall through to the store.
func (c *GrantCache) Get(ctx context.Context, userID string) ([]JunctionGrant, bool, error) {
	raw, err := c.client.Get(ctx, grantKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("grant cache get: %w", err)
	}
	var grants []JunctionGrant
	if err := json.Unmarshal(raw, &grants); err != nil {
		// A corrupt entry behaves like a miss; the next Put repairs it.
		return nil, false, nil
	}
	return grants, true, nil
}

// Put stores the grant snapshot for the user.
func (c *GrantCache) Put(ctx context.Context, userID string, grants []JunctionGrant) error {
	raw, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("grant cache encode: %w", err)
	}
	if err := c.client.Set(ctx, grantKeyPrefix+userID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("grant cache put: %w", err)
	}
	return nil
}

// Invalidate drops the user's snapshot. Called after every grant mutation
// and on deactivation.
func (c *GrantCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, grantKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("grant cache invalidate: %w", err)
	}
	return nil
}
