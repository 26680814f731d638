package redisclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker guards the booking critical section for one slice of one slot sheet.
// The database transaction is still the source of truth; the lock only lets
// concurrent bookers fail fast instead of queueing on the row lock.
type Locker interface {
	WithSliceLock(ctx context.Context, sheetID uuid.UUID, timeLabel string, fn func(ctx context.Context) error) error
}

type redisSliceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSliceLocker creates a locker keyed by (sheet, time label)
func NewRedisSliceLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSliceLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisSliceLocker) WithSliceLock(ctx context.Context, sheetID uuid.UUID, timeLabel string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:sheet:%s:%s", sheetID.String(), timeLabel)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis being unreachable must not take booking down; the row lock
		// inside the transaction still serializes writers.
		log.Printf("acquire slice lock %s: %v, proceeding without lock", key, err)
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSliceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slice lock: %w", err)
	}
	return nil
}
