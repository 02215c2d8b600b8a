package lock

import (
	"context"
	"fmt"
	"time"

	"wellnessplan/progress-app/internal/config"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// redisLocker uses redsync mutexes so API replicas and the scheduler agree on one owner per user.
type redisLocker struct {
	rs   *redsync.Redsync
	opts Options
}

// NewRedis returns a distributed Locker backed by rdb.
func NewRedis(rdb *redis.Client, opts Options) Locker {
	pool := goredis.NewPool(rdb)
	return &redisLocker{
		rs:   redsync.New(pool),
		opts: opts.withDefaults(),
	}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if !ok {
			return ErrLockLost
		}
		return nil
	}, nil
}
