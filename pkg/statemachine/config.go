package statemachine

import "time"

// Config holds the engine and dispatcher settings.
type Config struct {
	RecordChangedAttributes   bool          `env:"STATEMACHINE_RECORD_CHANGED_ATTRIBUTES" envDefault:"true"`
	CancelPendingOnTransition bool          `env:"STATEMACHINE_CANCEL_PENDING_ON_TRANSITION" envDefault:"true"`
	DispatchInterval          time.Duration `env:"STATEMACHINE_DISPATCH_INTERVAL" envDefault:"1m"`
	DispatchBatchSize         int           `env:"STATEMACHINE_DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchConcurrency       int           `env:"STATEMACHINE_DISPATCH_CONCURRENCY" envDefault:"10"`
	LockTTL                   time.Duration `env:"STATEMACHINE_LOCK_TTL" envDefault:"30s"`
}

// DefaultConfig returns the same values as the envDefault tags.
func DefaultConfig() Config {
	return Config{
		RecordChangedAttributes:   true,
		CancelPendingOnTransition: true,
		DispatchInterval:          time.Minute,
		DispatchBatchSize:         100,
		DispatchConcurrency:       10,
		LockTTL:                   30 * time.Second,
	}
}
