package cache

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestFingerprint_Normalization(t *testing.T) {
	base := Fingerprint("/locations", url.Values{"iso": {"US"}, "limit": {"100"}})

	tests := []struct {
		name     string
		endpoint string
		params   url.Values
		same     bool
	}{
		{"reordered keys", "locations", url.Values{"limit": {"100"}, "iso": {"US"}}, true},
		{"whitespace", " /locations/ ", url.Values{"iso": {" US "}, "limit": {"100"}}, true},
		{"empty value dropped", "/locations", url.Values{"iso": {"US"}, "limit": {"100"}, "page": {""}}, true},
		{"different value", "/locations", url.Values{"iso": {"GB"}, "limit": {"100"}}, false},
		{"different endpoint", "/countries", url.Values{"iso": {"US"}, "limit": {"100"}}, false},
		{"extra param", "/locations", url.Values{"iso": {"US"}, "limit": {"100"}, "page": {"2"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.endpoint, tt.params)
			if (got == base) != tt.same {
				t.Errorf("Fingerprint() = %q, base %q, want same=%v", got, base, tt.same)
			}
		})
	}

	if !strings.HasPrefix(base, keyVersion) {
		t.Errorf("Fingerprint() = %q, want prefix %q", base, keyVersion)
	}
}

func TestCanonical_SortsValues(t *testing.T) {
	got := Canonical("sensors/7/measurements", url.Values{"b": {"2", "1"}, "a": {"x"}})
	want := "sensors/7/measurements?a=x&b=1,2"
	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestEntry_Expired(t *testing.T) {
	inserted := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{InsertedAt: inserted, TTL: 5 * time.Minute}

	if e.Expired(inserted.Add(4 * time.Minute)) {
		t.Error("Expired() = true within TTL")
	}
	if !e.Expired(inserted.Add(5 * time.Minute)) {
		t.Error("Expired() = false at TTL boundary")
	}
}

func TestLRUCache_GetSet(t *testing.T) {
	c, err := NewLRUCache(4)
	if err != nil {
		t.Fatalf("NewLRUCache() error = %v", err)
	}
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}

	e := Entry{Key: "k", Payload: []byte(`[1]`), InsertedAt: time.Now(), TTL: time.Minute}
	if err := c.Set(ctx, e); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v err %v, want hit", ok, err)
	}
	if string(got.Payload) != "[1]" {
		t.Errorf("Get() payload = %s, want [1]", got.Payload)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() after Delete ok = true")
	}
}

func TestLRUCache_ExpiredIsMiss(t *testing.T) {
	c, _ := NewLRUCache(4)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, Entry{Key: "k", InsertedAt: now, TTL: 5 * time.Minute})
	now = now.Add(5*time.Minute + time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() ok = true for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired Get, want 0", c.Len())
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := NewLRUCache(2)
	ctx := context.Background()
	now := time.Now()

	_ = c.Set(ctx, Entry{Key: "a", InsertedAt: now, TTL: time.Hour})
	_ = c.Set(ctx, Entry{Key: "b", InsertedAt: now, TTL: time.Hour})
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, Entry{Key: "c", InsertedAt: now, TTL: time.Hour})

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRUCache_DefaultSize(t *testing.T) {
	c, err := NewLRUCache(0)
	if err != nil {
		t.Fatalf("NewLRUCache(0) error = %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < DefaultLRUSize+10; i++ {
		_ = c.Set(ctx, Entry{Key: Fingerprint("x", url.Values{"i": {strconv.Itoa(i)}}), InsertedAt: now, TTL: time.Hour})
	}
	if c.Len() != DefaultLRUSize {
		t.Errorf("Len() = %d, want %d", c.Len(), DefaultLRUSize)
	}
}

func TestLRUCache_CanceledContext(t *testing.T) {
	c, _ := NewLRUCache(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, Entry{Key: "k"}); err == nil {
		t.Error("Set() with canceled context error = nil")
	}
	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Error("Get() with canceled context error = nil")
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{5 * time.Minute, 300},
		{1500 * time.Millisecond, 2},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%s) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1 , ,b:2")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
