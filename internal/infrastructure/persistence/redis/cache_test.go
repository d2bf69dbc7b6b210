package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

func TestKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	c := NewCacheFromClient(client, "schedsync:")
	assert.Equal(t, "schedsync:lessons:7:2025-09-01:2025-09-07",
		NewScheduleCache(c, 0).LessonsKey(7, calendar.Date(2025, 9, 1), calendar.Date(2025, 9, 7)))
	assert.Equal(t, "schedsync:lock:sync_all", NewLocker(c).LockKey("sync_all"))
	assert.Equal(t, "schedsync:", c.Key())
}

func TestConfigOptions(t *testing.T) {
	opts, err := Config{URL: "redis://:secret@cache:6380/2", PoolSize: 4}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)

	opts, err = DefaultConfig().options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	_, err = Config{URL: "http://nope"}.options()
	assert.Error(t, err)
}

func TestCache_ArgumentValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	c := NewCacheFromClient(client, "")
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Second), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Second), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	_, err := c.SetNX(ctx, "", "v", time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	_, err = c.DeleteByPattern(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE REDIS
// ══════════════════════════════════════════════════════════════════════════════

func openTestCache(t *testing.T) *Cache {
	t.Helper()

	url := os.Getenv("SCHEDSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SCHEDSYNC_TEST_REDIS_URL not set")
	}

	prefix := "schedsync-test:" + t.Name() + ":"
	c, err := NewCache(context.Background(), Config{URL: url, KeyPrefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = c.DeleteByPattern(context.Background(), prefix+"*")
		_ = c.Close()
	})
	return c
}

func TestScheduleCache_Live(t *testing.T) {
	c := openTestCache(t)
	sc := NewScheduleCache(c, time.Minute)
	ctx := context.Background()
	from, to := calendar.Date(2025, 9, 1), calendar.Date(2025, 9, 7)

	_, hit, err := sc.GetLessons(ctx, 1, from, to)
	require.NoError(t, err)
	assert.False(t, hit)

	room := "214"
	lessons := []schedule.Lesson{{ID: 1, SubgroupID: 1, Subject: "Анатомия", LessonType: schedule.LessonTypeLecture,
		Date: from, StartTime: calendar.TimeOfDay{Hour: 9}, EndTime: calendar.TimeOfDay{Hour: 10, Minute: 30}, Room: &room}}
	require.NoError(t, sc.SetLessons(ctx, 1, from, to, lessons))
	require.NoError(t, sc.SetLessons(ctx, 2, from, to, nil))
	require.NoError(t, sc.SetSpecialities(ctx, []schedule.Speciality{{ID: 1, FullName: "Фармация"}}))

	got, hit, err := sc.GetLessons(ctx, 1, from, to)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, lessons, got)

	empty, hit, err := sc.GetLessons(ctx, 2, from, to)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Empty(t, empty)

	require.NoError(t, sc.InvalidateSchedules(ctx))
	_, hit, _ = sc.GetLessons(ctx, 1, from, to)
	assert.False(t, hit)
	_, hit, _ = sc.GetSpecialities(ctx)
	assert.False(t, hit)
}

func TestLocker_Live(t *testing.T) {
	l := NewLocker(openTestCache(t))
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "sync_all", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sync_all", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	unlock2, ok, err := l.TryLock(ctx, "sync_all", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale unlock must not release the new holder
	require.NoError(t, unlock(ctx))
	_, ok, _ = l.TryLock(ctx, "sync_all", time.Minute)
	assert.False(t, ok)
	require.NoError(t, unlock2(ctx))
}
