// Package cache implements the read-through cache in front of the entity
// store. Values are derived, never authoritative: every entry can be
// recomputed by calling back into the resolver or registry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store is the pluggable cache backend.
type Store interface {
	// Get loads the value at key into dest, reporting whether it was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Remove deletes the given keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
}

// Cache wraps a Store with read-through population, per-key-class TTLs and
// the enumerated invalidation hooks mutations call.
type Cache struct {
	store        Store
	logger       *slog.Logger
	group        *singleflight.Group
	singleFlight bool
}

// Option configures optional Cache behaviour.
type Option func(*Cache)

// WithSingleFlight serializes concurrent GetOrSet population per key.
// Without it two concurrent misses may both invoke the loader; results are
// identical either way since loaders are side-effect free.
func WithSingleFlight() Option {
	return func(c *Cache) { c.singleFlight = true }
}

// New constructs a Cache over the given backend.
func New(store Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{store: store, logger: logger, group: &singleflight.Group{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get loads the cached value at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.store == nil {
		return false, nil
	}
	return c.store.Get(ctx, key, dest)
}

// Set stores value under key using the TTL class derived from the key.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	return c.SetTTL(ctx, key, value, TTLForKey(key))
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Set(ctx, key, value, ttl)
}

// GetOrSet loads the value at key or populates it from loader on miss.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.store == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return assign(dest, value)
	}

	hit, err := c.store.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if hit {
		return nil
	}

	populate := func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, value, TTLForKey(key)); err != nil {
			return nil, err
		}
		return value, nil
	}

	var value any
	if c.singleFlight {
		value, err, _ = c.group.Do(key, populate)
	} else {
		value, err = populate()
	}
	if err != nil {
		return err
	}
	return assign(dest, value)
}

// Remove deletes the given keys.
func (c *Cache) Remove(ctx context.Context, keys ...string) error {
	if c == nil || c.store == nil || len(keys) == 0 {
		return nil
	}
	return c.store.Remove(ctx, keys...)
}

// RemoveByPattern exists for interface parity with callers that expect
// wildcard invalidation. It performs no removal; real invalidation is the
// enumerated key lists below.
func (c *Cache) RemoveByPattern(ctx context.Context, pattern string) error {
	if c != nil && c.logger != nil {
		c.logger.Debug("cache remove-by-pattern ignored", slog.String("pattern", pattern))
	}
	return nil
}

// InvalidateUser removes every derived key for the user.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	return c.Remove(ctx, UserKeys(userID)...)
}

// InvalidateRole removes every derived key for the role, including the
// user-independent role listings.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	return c.Remove(ctx, RoleKeys(roleID)...)
}

// InvalidatePermission removes every derived key for the permission.
func (c *Cache) InvalidatePermission(ctx context.Context, permissionID int64) error {
	return c.Remove(ctx, PermissionKeys(permissionID)...)
}

// assign copies value into dest through a JSON round-trip so loaders may
// return concrete types while callers pass typed destinations.
func assign(dest, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
