package cache

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func benchEntry(key string) Entry {
	return Entry{Key: key, Payload: []byte(`[{"value":14.2,"sensorsId":3917}]`), InsertedAt: time.Now(), TTL: 5 * time.Minute}
}

// BenchmarkFingerprint benchmarks key derivation for a typical measurements query.
func BenchmarkFingerprint(b *testing.B) {
	params := url.Values{
		"datetime_from": {"2024-03-01T00:00:00Z"},
		"datetime_to":   {"2024-03-02T00:00:00Z"},
		"limit":         {"1000"},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fingerprint("/sensors/3917/measurements", params)
	}
}

func BenchmarkLRUCache_Get_Hit(b *testing.B) {
	c, _ := NewLRUCache(1024)
	ctx := context.Background()
	_ = c.Set(ctx, benchEntry("k"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "k")
	}
}

func BenchmarkLRUCache_Get_Miss(b *testing.B) {
	c, _ := NewLRUCache(1024)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "missing")
	}
}

// BenchmarkLRUCache_SetEvicting keeps the cache full so every Set evicts.
func BenchmarkLRUCache_SetEvicting(b *testing.B) {
	c, _ := NewLRUCache(128)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, benchEntry("k"+strconv.Itoa(i)))
	}
}

func BenchmarkLRUCache_Concurrent(b *testing.B) {
	c, _ := NewLRUCache(1024)
	ctx := context.Background()
	_ = c.Set(ctx, benchEntry("k"))

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = c.Get(ctx, "k")
		}
	})
}
