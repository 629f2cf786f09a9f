package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// redisLocker connects to MAILSYNC_TEST_REDIS_ADDR and namespaces keys per
// test so parallel runs against a shared instance do not collide.
func redisLocker(t *testing.T, ttl time.Duration) (*Redis, *redis.Client) {
	t.Helper()
	addr := os.Getenv("MAILSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Redis not available, skipping test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, _ := test.NewNullLogger()
	l := NewRedis(rdb, ttl, logger)
	l.retry = 10 * time.Millisecond
	l.prefix = "mailsync:test:" + uuid.NewString() + ":"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Ping(ctx); err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	return l, rdb
}

func TestRedisMutualExclusion(t *testing.T) {
	l, rdb := redisLocker(t, time.Minute)

	release, err := l.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "acct")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan Release, 1)
	go func() {
		r, err := l.Acquire(context.Background(), "acct")
		if err == nil {
			acquired <- r
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()

	select {
	case r := <-acquired:
		r()
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}

	n, err := rdb.Exists(context.Background(), l.prefix+"acct").Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedisReleaseByStaleHolderKeepsNewLock(t *testing.T) {
	l, rdb := redisLocker(t, 200*time.Millisecond)
	key := l.prefix + "acct"

	stale, err := l.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	// the first holder's key expires and a second holder takes over
	time.Sleep(400 * time.Millisecond)
	l.ttl = time.Minute
	current, err := l.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	token, err := rdb.Get(context.Background(), key).Result()
	require.NoError(t, err)

	stale()
	got, err := rdb.Get(context.Background(), key).Result()
	require.NoError(t, err)
	require.Equal(t, token, got)

	current()
	n, err := rdb.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedisUnlockScriptRequiresToken(t *testing.T) {
	l, rdb := redisLocker(t, time.Minute)
	ctx := context.Background()
	key := l.prefix + "acct"

	require.NoError(t, rdb.Set(ctx, key, "owner", time.Minute).Err())
	deleted, err := unlockScript.Run(ctx, rdb, []string{key}, "intruder").Int()
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = unlockScript.Run(ctx, rdb, []string{key}, "owner").Int()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}
