package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
)

// Redis is a distributed core.Locker for deployments running more than one
// server process against the same database.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger logrus.FieldLogger
}

type RedisOptions struct {
	// TTL bounds how long a crashed holder can keep a key.
	TTL time.Duration
	// Wait is how long Lock keeps retrying before giving up.
	Wait time.Duration
	// Backoff is the pause between attempts.
	Backoff time.Duration
}

func NewRedis(rdb redis.UniversalClient, opts RedisOptions, logger logrus.FieldLogger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	attempts := int(opts.Wait / opts.Backoff)
	if attempts < 1 {
		attempts = 1
	}
	return &Redis{
		client: redislock.New(rdb),
		ttl:    opts.TTL,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(opts.Backoff), attempts),
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.client.Obtain(ctx, "lock:"+key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", core.ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithFields(logrus.Fields{"module": "locking", "key": key}).
				WithError(err).Warn("failed to release redis lock")
		}
	}, nil
}
