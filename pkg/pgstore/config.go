package pgstore

import (
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// Config names the tables the storage reads and writes.
// The same environment variables are substituted into the embedded migrations.
type Config struct {
	TransitionsTable        string `env:"STATEMACHINE_TRANSITIONS_TABLE" envDefault:"state_histories"`
	PendingTransitionsTable string `env:"STATEMACHINE_PENDING_TRANSITIONS_TABLE" envDefault:"pending_transitions"`
	MigrationsTable         string `env:"STATEMACHINE_MIGRATIONS_TABLE" envDefault:"statemachine_migrations"`
}

func DefaultConfig() Config {
	return Config{
		TransitionsTable:        "state_histories",
		PendingTransitionsTable: "pending_transitions",
		MigrationsTable:         "statemachine_migrations",
	}
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,48}$`)

// Validate rejects table names that are not plain lower-case identifiers. Index names are
// derived from the table names, so the length is capped below the identifier limit.
func (c Config) Validate() error {
	for _, name := range []string{c.TransitionsTable, c.PendingTransitionsTable, c.MigrationsTable} {
		if !tableName.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	}
	return nil
}

func quoteTable(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
