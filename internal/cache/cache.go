package cache

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// keyVersion prefixes every fingerprint. Bump it when the payload encoding
// changes so old entries in shared backends are never decoded.
const keyVersion = "openaq:v1:"

// Entry is one cached response. Payload holds the normalized records as JSON.
type Entry struct {
	Key        string        `json:"key"`
	Payload    []byte        `json:"payload"`
	InsertedAt time.Time     `json:"insertedAt"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the entry stops being served.
func (e Entry) ExpiresAt() time.Time {
	return e.InsertedAt.Add(e.TTL)
}

// Expired reports whether now is at or past ExpiresAt.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Cache stores Entries by fingerprint. Get returns ok=false on a miss or an
// expired entry; an error means the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// Fingerprint derives a stable cache key from an endpoint and its query
// parameters. Parameter order, value order, surrounding whitespace and empty
// values do not affect the result.
func Fingerprint(endpoint string, params url.Values) string {
	return keyVersion + fmt.Sprintf("%016x", xxhash.Sum64String(Canonical(endpoint, params)))
}

// Canonical renders the normalized request that Fingerprint hashes.
func Canonical(endpoint string, params url.Values) string {
	var b strings.Builder
	b.WriteString(strings.Trim(strings.TrimSpace(endpoint), "/"))

	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	sep := byte('?')
	for _, k := range keys {
		var vals []string
		for _, v := range params[k] {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		sort.Strings(vals)
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(strings.TrimSpace(k))
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}
