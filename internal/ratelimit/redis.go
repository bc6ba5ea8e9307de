package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

const defaultRedisPrefix = "openaq:ratelimit"

// RedisStore shares the quota between dashboard processes. Windows are
// aligned to wall-clock minutes and hours; each window is one counter key.
type RedisStore struct {
	rdb       redis.Cmdable
	prefix    string
	perMinute int
	perHour   int
}

// NewRedisStore creates a RedisStore. An empty prefix uses "openaq:ratelimit".
func NewRedisStore(rdb redis.Cmdable, prefix string, perMinute, perHour int) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, perMinute: perMinute, perHour: perHour}
}

func (s *RedisStore) windowKey(tag string, now time.Time, size time.Duration) (string, time.Time) {
	start := now.Truncate(size)
	return fmt.Sprintf("%s:%s:%d", s.prefix, tag, start.Unix()), start.Add(size)
}

// Reserve implements Store. Both counters are incremented in one transaction;
// if either exceeds its limit the increments are rolled back.
func (s *RedisStore) Reserve(ctx context.Context, now time.Time) (Decision, error) {
	mKey, mReset := s.windowKey("m", now, time.Minute)
	hKey, hReset := s.windowKey("h", now, time.Hour)

	var mIncr, hIncr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		mIncr = p.Incr(ctx, mKey)
		p.Expire(ctx, mKey, 2*time.Minute)
		hIncr = p.Incr(ctx, hKey)
		p.Expire(ctx, hKey, 2*time.Hour)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("reserve: %w", err)
	}

	hourOver := s.perHour > 0 && hIncr.Val() > int64(s.perHour)
	minuteOver := s.perMinute > 0 && mIncr.Val() > int64(s.perMinute)
	if !hourOver && !minuteOver {
		return Decision{Allowed: true}, nil
	}

	if _, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Decr(ctx, mKey)
		p.Decr(ctx, hKey)
		return nil
	}); err != nil {
		return Decision{}, fmt.Errorf("rollback reservation: %w", err)
	}

	if hourOver {
		return Decision{Scope: aqerr.ScopeHour, RetryAfter: hReset.Sub(now)}, nil
	}
	return Decision{Scope: aqerr.ScopeMinute, RetryAfter: mReset.Sub(now)}, nil
}

// Snapshot implements Store.
func (s *RedisStore) Snapshot(ctx context.Context, now time.Time) (State, error) {
	mKey, mReset := s.windowKey("m", now, time.Minute)
	hKey, hReset := s.windowKey("h", now, time.Hour)

	m, err := s.count(ctx, mKey)
	if err != nil {
		return State{}, err
	}
	h, err := s.count(ctx, hKey)
	if err != nil {
		return State{}, err
	}
	return State{MinuteCount: m, MinuteResetAt: mReset, HourCount: h, HourResetAt: hReset}, nil
}

func (s *RedisStore) count(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return n, nil
}
