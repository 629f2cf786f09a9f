package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultKeyPrefix = "mailsync:lock:"
	defaultRetry     = 100 * time.Millisecond
)

// only the holder's token may delete the key
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process pointed at the same Redis.
// Keys expire after ttl so a crashed holder cannot wedge a mailbox.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger *logrus.Logger
}

// NewRedis creates a Redis-backed locker
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		retry:  defaultRetry,
		prefix: defaultKeyPrefix,
		logger: logger,
	}
}

// Acquire polls SETNX until the key is taken or ctx is done
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil {
				r.logger.WithError(err).WithField("key", key).Warn("Failed to release lock")
			}
		})
	}, nil
}

// Ping checks that Redis is reachable
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
