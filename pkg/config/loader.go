package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Option tunes a single Load call.
type Option func(*options)

type options struct {
	prefix string
}

// WithPrefix prepends prefix to every env key of the struct, so one config
// type can be loaded several times (e.g. "PRIMARY_" and "REPLICA_").
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

type cache struct {
	mu     sync.Mutex
	values map[string]any
}

var (
	loaded = &cache{values: make(map[string]any)}

	defaultEnvLoaded sync.Once
)

// LoadEnv reads .env files into the process environment without overriding
// variables that are already set. Earlier files win over later ones.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses environment variables into v. The first successful result per
// type and prefix is cached and returned by later calls.
// A .env file in the working directory is read once, if present.
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	key := o.prefix + typeName[T]()

	loaded.mu.Lock()
	defer loaded.mu.Unlock()

	if cached, ok := loaded.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.ParseWithOptions(&parsed, env.Options{Prefix: o.prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	loaded.values[key] = parsed
	*v = parsed
	return nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// ResetCache forgets every loaded configuration.
func ResetCache() {
	loaded.mu.Lock()
	defer loaded.mu.Unlock()
	clear(loaded.values)
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
