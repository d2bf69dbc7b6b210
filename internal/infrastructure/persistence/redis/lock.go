package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TTLDistributedLock is the default lock TTL.
const TTLDistributedLock = 30 * time.Minute

// Locker hands out SETNX locks. Each lock stores a random token so that only
// its owner can release it.
type Locker struct {
	cache *Cache
}

// NewLocker creates a new Locker.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// LockKey returns the key that guards resource.
func (l *Locker) LockKey(resource string) string {
	return l.cache.Key("lock", resource)
}

// TryLock acquires the lock without waiting. ok is false when another holder
// owns it. The returned unlock is a no-op once the TTL has expired and
// someone else took over.
func (l *Locker) TryLock(ctx context.Context, resource string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}

	key := l.LockKey(resource)
	token := uuid.NewString()

	ok, err = l.cache.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	unlock = func(ctx context.Context) error {
		_, err := l.cache.DeleteIfEquals(ctx, key, token)
		return err
	}
	return unlock, true, nil
}
