//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// newIntegrationMemcached connects to MEMCACHED_ADDRS (default localhost:11211)
// and skips when no server answers.
func newIntegrationMemcached(t *testing.T) *MemcachedCache {
	t.Helper()
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		addrs = "localhost:11211"
	}
	c, err := NewMemcachedCache(addrs, 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache(%q) error = %v", addrs, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(context.Background()); err != nil {
		t.Skipf("memcached not reachable at %s: %v", addrs, err)
	}
	return c
}

func TestMemcachedCache_Lifecycle_Integration(t *testing.T) {
	c := newIntegrationMemcached(t)
	ctx := context.Background()
	key := Fingerprint("/locations/2178/latest", nil)

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get(before Set) = ok %v, err %v; want miss", ok, err)
	}

	e := Entry{Key: key, Payload: []byte(`[{"value":14.2}]`), InsertedAt: time.Now(), TTL: time.Minute}
	if err := c.Set(ctx, e); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if string(got.Payload) != string(e.Payload) || got.TTL != e.TTL {
		t.Errorf("Get() = %+v, want %+v", got, e)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}

func TestMemcachedCache_StaleEntryIsMiss_Integration(t *testing.T) {
	c := newIntegrationMemcached(t)
	ctx := context.Background()
	key := Fingerprint("/countries", nil)
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	if err := c.Set(ctx, Entry{Key: key, Payload: []byte(`[]`), InsertedAt: time.Now(), TTL: time.Minute}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Errorf("Get(stale) = ok %v, err %v; want miss", ok, err)
	}
}
