// Package redis connects to Redis with go-redis and provides a distributed
// statemachine.Locker.
//
// Connect retries the initial ping within ConnectTimeout. Healthcheck wraps
// PING for readiness probes. Locker serializes transitions of one entity
// field across processes:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	engine, err := statemachine.NewEngine(store, registry,
//		statemachine.WithLocker(redis.NewLocker(client, cfg), 30*time.Second),
//	)
//
// A lock key expires after the ttl passed to Lock, so a crashed holder never
// blocks a field forever. Releasing a lock that already expired returns
// ErrLockNotHeld.
package redis
