// Package config loads typed configuration from environment variables.
//
// Structs are annotated with caarlos0/env tags. Load parses the environment
// once per type and prefix and serves later calls from a process-wide cache;
// .env files are read with godotenv and never override variables that are
// already set.
//
//	var cfg struct {
//		Engine statemachine.Config
//		Store  pgstore.Config
//		PG     pg.Config
//	}
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Use WithPrefix to load the same type from differently prefixed variables
// and ResetCache in tests that change the environment between loads.
package config
