package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

// ModelWriter stores *statemachine.Model entities as a JSONB document in table,
// which needs the columns (id TEXT PRIMARY KEY, attributes JSONB NOT NULL).
func ModelWriter(table string) (EntityWriter, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	query := "INSERT INTO " + quoteTable(table) + " (id, attributes) VALUES ($1, $2) " +
		"ON CONFLICT (id) DO UPDATE SET attributes = EXCLUDED.attributes"

	return func(ctx context.Context, tx pgx.Tx, e statemachine.Entity) error {
		m, ok := e.(*statemachine.Model)
		if !ok {
			return fmt.Errorf("model writer: unsupported entity %T", e)
		}
		data, err := json.Marshal(m.Attrs())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, query, m.Ref().ID, data)
		return err
	}, nil
}

// ModelLoader is the counterpart of ModelWriter for the registry.
func ModelLoader(db DB, entityType, table string) (statemachine.Loader, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	query := "SELECT attributes FROM " + quoteTable(table) + " WHERE id = $1"

	return func(ctx context.Context, id string) (statemachine.Entity, error) {
		var data []byte
		if err := db.QueryRow(ctx, query, id).Scan(&data); err != nil {
			if pg.IsNotFoundError(err) {
				return nil, fmt.Errorf("%w: %s", statemachine.ErrEntityNotFound, statemachine.NewRef(entityType, id))
			}
			return nil, err
		}
		var attrs map[string]any
		if err := json.Unmarshal(data, &attrs); err != nil {
			return nil, err
		}
		return statemachine.NewModel(entityType, id, attrs), nil
	}, nil
}
