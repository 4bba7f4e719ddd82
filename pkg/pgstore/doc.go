// Package pgstore persists state machine history and pending transitions in
// PostgreSQL.
//
// Storage implements statemachine.Storage on pgx/v5. Every transition runs in
// one database transaction: the entity save, the audit record, pending
// cancellation and applied-marking commit or roll back together. Custom
// properties and changed attributes are stored as JSONB, genesis records have
// a NULL "from" column guarded by a partial unique index.
//
// The engine does not know how to persist host entities, so each entity type
// needs an EntityWriter that runs inside the same pgx.Tx:
//
//	store, err := pgstore.New(pool, cfg,
//		pgstore.WithEntityWriter("order", func(ctx context.Context, tx pgx.Tx, e statemachine.Entity) error {
//			_, err := tx.Exec(ctx, "UPDATE orders SET status = $2 WHERE id = $1", e.Ref().ID, e.StateOf("status"))
//			return err
//		}),
//	)
//
// ModelWriter and ModelLoader cover statemachine.Model entities kept as JSONB
// documents.
//
// The schema ships as embedded goose migrations. Table names come from Config
// and are substituted at apply time:
//
//	if err := pgstore.Migrate(ctx, pool, cfg, logger); err != nil {
//		return err
//	}
package pgstore
