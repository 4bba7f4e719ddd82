package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // redis://:password@localhost:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	LockPrefix        string        `env:"REDIS_LOCK_PREFIX" envDefault:"transitkit:"`
	LockRetryInterval time.Duration `env:"REDIS_LOCK_RETRY_INTERVAL" envDefault:"50ms"` // polling period while a lock is held elsewhere
}
