package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(NewRedisStore(client), nil, opts...), mr
}

func TestGetOrSetPopulatesOnMiss(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"order.read", "order.create"}, nil
	}

	var perms []string
	if err := c.GetOrSet(ctx, KeyUserPermissions(7), &perms, loader); err != nil {
		t.Fatalf("get or set: %v", err)
	}
	if len(perms) != 2 || perms[0] != "order.read" {
		t.Fatalf("unexpected permissions %#v", perms)
	}
	if calls != 1 {
		t.Fatalf("expected 1 loader call, got %d", calls)
	}

	perms = nil
	if err := c.GetOrSet(ctx, KeyUserPermissions(7), &perms, loader); err != nil {
		t.Fatalf("second get or set: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached value, loader called %d times", calls)
	}
	if len(perms) != 2 {
		t.Fatalf("expected cached permissions, got %#v", perms)
	}
}

func TestInvalidateUserRemovesEnumeratedKeys(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	for _, key := range UserKeys(42) {
		if err := c.Set(ctx, key, "stale"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := c.Set(ctx, KeyUser(99), "other-user"); err != nil {
		t.Fatalf("set other user: %v", err)
	}

	if err := c.InvalidateUser(ctx, 42); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	for _, key := range UserKeys(42) {
		var out string
		hit, err := c.Get(ctx, key, &out)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if hit {
			t.Fatalf("expected %s to be removed", key)
		}
	}
	if !mr.Exists(KeyUser(99)) {
		t.Fatalf("unrelated user key must survive invalidation")
	}

	// A subsequent GetOrSet recomputes from the loader.
	loaderCalled := false
	var out string
	err := c.GetOrSet(ctx, KeyUserRoles(42), &out, func(context.Context) (any, error) {
		loaderCalled = true
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("get or set after invalidation: %v", err)
	}
	if !loaderCalled || out != "fresh" {
		t.Fatalf("expected recomputed value, got %q (loader called %v)", out, loaderCalled)
	}
}

func TestRemoveByPatternIsNoOp(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, KeyRole(1), "admin"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.RemoveByPattern(ctx, "role:*"); err != nil {
		t.Fatalf("remove by pattern: %v", err)
	}
	if !mr.Exists(KeyRole(1)) {
		t.Fatalf("pattern removal must not delete keys")
	}
}

func TestTTLForKeyClasses(t *testing.T) {
	cases := map[string]time.Duration{
		KeyUser(1):            UserTTL,
		KeyUserRoles(1):       UserTTL,
		KeyUserPermissions(1): UserTTL,
		KeyRole(1):            EntityTTL,
		KeyRolePermissions(1): EntityTTL,
		KeyPermission(1):      EntityTTL,
		KeyRolesAll():         EntityTTL,
		KeyPermissionsAll():   EntityTTL,
	}
	for key, want := range cases {
		if got := TTLForKey(key); got != want {
			t.Fatalf("ttl for %s: got %v want %v", key, got, want)
		}
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	var out string
	hit, err := store.Get(ctx, "k", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestGetOrSetSingleFlight(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, nil, WithSingleFlight())
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out string
			if err := c.GetOrSet(ctx, "sf-key", &out, loader); err != nil {
				t.Errorf("get or set: %v", err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected single loader invocation, got %d", got)
	}
}
