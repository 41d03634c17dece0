package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries the holder's
// token, so a lock that expired and was re-acquired elsewhere is never
// clobbered by a slow previous holder.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker provides a Redis-backed distributed lock. The order service holds
// one per process to serialise voucher mutations against the same order
// across API replicas.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

func (l Locker) backoff() time.Duration {
	if l.RetryBackoff > 0 {
		return l.RetryBackoff
	}
	return 50 * time.Millisecond
}

// WithLock runs fn while holding the lock for key. Acquisition retries with a
// fixed backoff until the context is cancelled; the lock is released when fn
// returns, whether or not it failed.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	token := uuid.NewString()
	for {
		acquired, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff()):
		}
	}

	// Release runs on a fresh context so a cancelled caller still frees
	// the key for the next holder.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}
