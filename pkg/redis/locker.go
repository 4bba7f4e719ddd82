package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a statemachine.Locker shared by every process using the same Redis.
// Each acquisition stores a random token under the key with SET NX PX.
type Locker struct {
	client        redis.UniversalClient
	prefix        string
	retryInterval time.Duration
}

var _ statemachine.Locker = (*Locker)(nil)

func NewLocker(client redis.UniversalClient, cfg Config) *Locker {
	retry := cfg.LockRetryInterval
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Locker{
		client:        client,
		prefix:        cfg.LockPrefix,
		retryInterval: retry,
	}
}

// Lock polls until the key is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (statemachine.UnlockFunc, error) {
	lockKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", lockKey, err)
		}
		if ok {
			return l.release(lockKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) release(lockKey, token string) statemachine.UnlockFunc {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", lockKey, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
}
