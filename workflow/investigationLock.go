package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/creditfield/loan_backend/config"
	"github.com/sirupsen/logrus"
)

var ErrLockNotObtained = errors.New("investigation is being modified by another request")

// Unlocker releases an obtained lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker serializes writers of one investigation across instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

var errRedisLockNotReady = errors.New("redis lock not ready")

// RedisLocker obtains locks through redislock. A nil client falls back to the
// shared config client, which may connect after startup.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	client := l.client
	if client == nil {
		client = config.GetRedisLock()
	}
	if client == nil {
		return nil, errRedisLockNotReady
	}
	lock, err := client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func investigationLockKey(investigationId int) string {
	return fmt.Sprintf("lock:investigation:%d", investigationId)
}

func applicationLockKey(applicationId string) string {
	return fmt.Sprintf("lock:application:%s", applicationId)
}

// acquire takes the lock on key. The lock is best-effort: without Redis, or
// when it cannot be obtained, the operation proceeds and the version check on
// save is the real guard. In strict mode a lock failure aborts.
func (s *Service) acquire(ctx context.Context, funcName, key string) (func(), error) {
	noop := func() {}
	fields := logrus.Fields{"field": funcName, "lock_key": key}
	if s.Locker == nil {
		if s.StrictLock {
			return nil, ErrLockNotObtained
		}
		s.Logger.WithFields(fields).Warn("redis lock not ready; proceeding without redis lock")
		return noop, nil
	}
	lock, err := s.Locker.Obtain(ctx, key, s.LockTTL)
	if err != nil {
		if s.StrictLock {
			if errors.Is(err, ErrLockNotObtained) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrLockNotObtained, err)
		}
		s.Logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock: " + err.Error())
		return noop, nil
	}
	return func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.Logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}, nil
}
