package locker

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTTL     = 2 * time.Minute
	defaultBackoff = 50 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

// Redis is a distributed Locker backed by bsm/redislock. The lease TTL bounds
// how long a crashed holder can block the key.
type Redis struct {
	client  *redislock.Client
	log     *zap.Logger
	ttl     time.Duration
	backoff time.Duration
}

func NewRedis(client redis.UniversalClient, log *zap.Logger, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:  redislock.New(client),
		log:     log.Named("locker.redis"),
		ttl:     ttl,
		backoff: defaultBackoff,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Release, error) {
	return r.obtain(ctx, key, redislock.LinearBackoff(r.backoff))
}

func (r *Redis) TryLock(ctx context.Context, key string) (Release, error) {
	return r.obtain(ctx, key, redislock.NoRetry())
}

func (r *Redis) obtain(ctx context.Context, key string, retry redislock.RetryStrategy) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	lock, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{RetryStrategy: retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return r.releaser(key, lock), nil
}

func (r *Redis) releaser(key string, lock *redislock.Lock) Release {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
}
