package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/transitkit/pkg/redis"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

func newLocker(t *testing.T) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewLocker(client, redis.Config{
		LockPrefix:        "test:",
		LockRetryInterval: 10 * time.Millisecond,
	}), mr
}

func TestLocker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("lock and unlock", func(t *testing.T) {
		t.Parallel()
		locker, mr := newLocker(t)

		unlock, err := locker.Lock(ctx, "order:1:status", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:order:1:status"))
		assert.Equal(t, 5*time.Second, mr.TTL("test:order:1:status"))

		require.NoError(t, unlock(ctx))
		assert.False(t, mr.Exists("test:order:1:status"))
	})

	t.Run("contention waits for release", func(t *testing.T) {
		t.Parallel()
		locker, _ := newLocker(t)

		unlock, err := locker.Lock(ctx, "k", 5*time.Second)
		require.NoError(t, err)

		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(short, "k", 5*time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		acquired := make(chan statemachine.UnlockFunc, 1)
		go func() {
			next, err := locker.Lock(ctx, "k", 5*time.Second)
			if err == nil {
				acquired <- next
			}
		}()

		require.NoError(t, unlock(ctx))
		select {
		case next := <-acquired:
			require.NoError(t, next(ctx))
		case <-time.After(2 * time.Second):
			t.Fatal("second holder never acquired the lock")
		}
	})

	t.Run("expired lock is not released by the old holder", func(t *testing.T) {
		t.Parallel()
		locker, mr := newLocker(t)

		stale, err := locker.Lock(ctx, "k", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)

		fresh, err := locker.Lock(ctx, "k", 5*time.Second)
		require.NoError(t, err)

		assert.ErrorIs(t, stale(ctx), redis.ErrLockNotHeld)
		assert.True(t, mr.Exists("test:k"))
		require.NoError(t, fresh(ctx))
	})
}

func TestLocker_SerializesTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locker, _ := newLocker(t)

	storage := statemachine.NewMemoryStorage()
	registry := statemachine.NewRegistry()
	registry.MustRegister("order", "status", statemachine.MustNew(
		statemachine.StringState("pending"),
		statemachine.WithTransition(statemachine.StringState("pending"), statemachine.StringState("active")),
	))
	engine, err := statemachine.NewEngine(storage, registry, statemachine.WithLocker(locker, 5*time.Second))
	require.NoError(t, err)

	order := statemachine.NewModel("order", 1, nil)
	require.NoError(t, engine.Create(ctx, order))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.TransitionTo(ctx, order, "status", statemachine.StringState("pending"), statemachine.StringState("active")); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Len(t, storage.Transitions(), 2)
}
