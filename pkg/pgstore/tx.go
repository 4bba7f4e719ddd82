package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type storageTx struct {
	storage *Storage
	tx      pgx.Tx
}

func (t *storageTx) SaveEntity(ctx context.Context, e statemachine.Entity) error {
	ref := e.Ref()
	w, ok := t.storage.writers[ref.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntityWriter, ref.Type)
	}
	if err := w(ctx, t.tx, e); err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	return nil
}

func (t *storageTx) CreateTransition(ctx context.Context, rec *statemachine.Transition) error {
	props, err := marshalJSON(rec.CustomProperties)
	if err != nil {
		return err
	}
	changed, err := marshalJSON(rec.ChangedAttributes)
	if err != nil {
		return err
	}
	var from *string
	if rec.From != "" {
		from = &rec.From
	}
	respType, respID := splitRef(rec.Responsible)

	err = t.tx.QueryRow(ctx,
		"INSERT INTO "+t.storage.transitions+` (model_type, model_id, field, "from", "to", custom_properties, `+
			"responsible_type, responsible_id, changed_attributes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"RETURNING id, created_at",
		rec.Entity.Type, rec.Entity.ID, rec.Field, from, rec.To, props, respType, respID, changed,
	).Scan(&rec.ID, &rec.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s.%s", statemachine.ErrDuplicateGenesis, rec.Entity, rec.Field)
	}
	if err != nil {
		return fmt.Errorf("create transition: %w", err)
	}
	return nil
}

func (t *storageTx) DeletePending(ctx context.Context, ref statemachine.Ref, field string, exceptID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		"DELETE FROM "+t.storage.pending+" WHERE model_type = $1 AND model_id = $2 AND field = $3 AND id <> $4",
		ref.Type, ref.ID, field, exceptID)
	if err != nil {
		return 0, fmt.Errorf("delete pending transitions: %w", err)
	}
	return tag.RowsAffected(), nil
}
