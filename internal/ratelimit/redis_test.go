package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

func setupMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_MinuteLimit(t *testing.T) {
	rdb := setupMiniredis(t)
	s := NewRedisStore(rdb, "", 3, 100)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 15, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := s.Reserve(ctx, now)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d, err := s.Reserve(ctx, now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, aqerr.ScopeMinute, d.Scope)
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	st, err := s.Snapshot(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, st.MinuteCount, "denied reservation must be rolled back")
	assert.Equal(t, 3, st.HourCount)

	d, err = s.Reserve(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed, "next minute window should admit")
}

func TestRedisStore_HourLimit(t *testing.T) {
	rdb := setupMiniredis(t)
	s := NewRedisStore(rdb, "test", 0, 2)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 40, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		d, err := s.Reserve(ctx, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := s.Reserve(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, aqerr.ScopeHour, d.Scope)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)
}

// TestRedisStore_SharedBetweenLimiters verifies that two limiters backed by the
// same Redis share one quota, as two dashboard processes would.
func TestRedisStore_SharedBetweenLimiters(t *testing.T) {
	rdb := setupMiniredis(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := New(NewRedisStore(rdb, "", 4, 100), PolicyFail, 0, WithClock(clock))
	b := New(NewRedisStore(rdb, "", 4, 100), PolicyFail, 0, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, a.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, a.Acquire(ctx))
	require.NoError(t, b.Acquire(ctx))

	assert.ErrorIs(t, a.Acquire(ctx), aqerr.ErrRateLimited)
	assert.ErrorIs(t, b.Acquire(ctx), aqerr.ErrRateLimited)

	st, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.MinuteCount)
}

func TestRedisStore_SnapshotEmpty(t *testing.T) {
	rdb := setupMiniredis(t)
	s := NewRedisStore(rdb, "", 60, 2000)
	st, err := s.Snapshot(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, st.MinuteCount)
	assert.Zero(t, st.HourCount)
}
