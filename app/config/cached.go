package config

import (
	"context"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

// CachedStore wraps Store with an expirable cache keyed by guild id.
// Lookups happen on every member event.
type CachedStore struct {
	store *Store
	cache cache.Cache[string, detect.ServerPolicy]
}

// NewCachedStore creates a read-through policy store with the given ttl and size limit
func NewCachedStore(store *Store, ttl time.Duration, maxKeys int) *CachedStore {
	return &CachedStore{
		store: store,
		cache: cache.NewCache[string, detect.ServerPolicy]().WithTTL(ttl).WithMaxKeys(maxKeys),
	}
}

// Load returns the guild policy from cache, falls back to the database on miss
func (c *CachedStore) Load(ctx context.Context, guildID string) (detect.ServerPolicy, error) {
	if policy, ok := c.cache.Get(guildID); ok {
		return policy, nil
	}
	policy, err := c.store.Load(ctx, guildID)
	if err != nil {
		return detect.ServerPolicy{}, err
	}
	c.cache.Set(guildID, policy, 0) // 0 means default ttl
	return policy, nil
}

// Save stores the policy and invalidates the cached entry
func (c *CachedStore) Save(ctx context.Context, guildID string, policy detect.ServerPolicy) error {
	if err := c.store.Save(ctx, guildID, policy); err != nil {
		return err
	}
	c.cache.Invalidate(guildID)
	return nil
}

// LastUpdated reports when the guild policy was last saved, always hits the
// database as the timestamp is not cached
func (c *CachedStore) LastUpdated(ctx context.Context, guildID string) (time.Time, error) {
	return c.store.LastUpdated(ctx, guildID)
}

// Delete removes the policy and invalidates the cached entry
func (c *CachedStore) Delete(ctx context.Context, guildID string) error {
	if err := c.store.Delete(ctx, guildID); err != nil {
		return err
	}
	c.cache.Invalidate(guildID)
	return nil
}
