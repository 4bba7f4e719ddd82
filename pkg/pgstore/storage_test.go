package pgstore_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/pgstore"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

const (
	orderType   = "order"
	statusField = "status"
)

type harness struct {
	pool     *pgxpool.Pool
	storage  *pgstore.Storage
	engine   *statemachine.Engine
	registry *statemachine.Registry
	orders   string
}

// setup migrates uniquely named tables so runs against a shared database do not collide.
func setup(t *testing.T) *harness {
	t.Helper()

	connString := os.Getenv("PG_CONN_URL")
	if connString == "" {
		t.Skip("PG_CONN_URL is not set")
	}
	ctx := context.Background()

	pool, err := pg.Connect(ctx, pg.Config{
		ConnectionString: connString,
		MaxOpenConns:     4,
		RetryAttempts:    1,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	cfg := pgstore.Config{
		TransitionsTable:        "sh_" + suffix,
		PendingTransitionsTable: "pt_" + suffix,
		MigrationsTable:         "mig_" + suffix,
	}
	orders := "orders_" + suffix

	require.NoError(t, pgstore.Migrate(ctx, pool, cfg, nil))
	_, err = pool.Exec(ctx, "CREATE TABLE "+orders+" (id TEXT PRIMARY KEY, attributes JSONB NOT NULL)")
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, table := range []string{cfg.TransitionsTable, cfg.PendingTransitionsTable, cfg.MigrationsTable, orders} {
			_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		}
	})

	version, err := pgstore.SchemaVersion(ctx, pool, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	for _, index := range []string{"_model_idx", "_to_idx", "_genesis_idx"} {
		var exists bool
		err = pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = $1 AND indexname = $2)",
			cfg.TransitionsTable, cfg.TransitionsTable+index).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "missing index %s", cfg.TransitionsTable+index)
	}

	writer, err := pgstore.ModelWriter(orders)
	require.NoError(t, err)
	loader, err := pgstore.ModelLoader(pool, orderType, orders)
	require.NoError(t, err)

	storage, err := pgstore.New(pool, cfg, pgstore.WithEntityWriter(orderType, writer))
	require.NoError(t, err)

	registry := statemachine.NewRegistry()
	registry.MustRegister(orderType, statusField, statemachine.MustNew(
		statemachine.StringState("pending"),
		statemachine.WithName("order_status"),
		statemachine.WithTransition(statemachine.StringState("pending"), statemachine.StringState("active"), statemachine.StringState("cancelled")),
		statemachine.WithTransition(statemachine.StringState("active"), statemachine.StringState("completed"), statemachine.StringState("cancelled")),
	))
	registry.RegisterLoader(orderType, loader)

	engine, err := statemachine.NewEngine(storage, registry)
	require.NoError(t, err)

	return &harness{pool: pool, storage: storage, engine: engine, registry: registry, orders: orders}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := pgstore.New(nil, pgstore.DefaultConfig())
	assert.ErrorIs(t, err, pgstore.ErrDBNil)

	_, err = pgstore.ModelWriter("Orders")
	assert.ErrorIs(t, err, pgstore.ErrInvalidTableName)
}

func TestStorage(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	admin := statemachine.NewRef("user", 1)

	order := statemachine.NewModel(orderType, 1, map[string]any{"total": 10})
	require.NoError(t, h.engine.Create(ctx, order))

	t.Run("genesis is unique per field", func(t *testing.T) {
		err := h.storage.WithTx(ctx, func(ctx context.Context, tx statemachine.Tx) error {
			return tx.CreateTransition(ctx, &statemachine.Transition{
				Entity: order.Ref(), Field: statusField, To: "pending",
			})
		})
		assert.ErrorIs(t, err, statemachine.ErrDuplicateGenesis)
	})

	t.Run("transition persists record and entity", func(t *testing.T) {
		order.SetAttr("total", 12)
		require.NoError(t, h.engine.TransitionTo(ctx, order, statusField, nil, statemachine.StringState("active"),
			statemachine.WithResponsible(admin),
			statemachine.WithCustomProperties(map[string]any{"channel": map[string]any{"name": "web"}})))

		history, err := h.engine.History(ctx, order, statusField)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].IsGenesis())
		assert.Equal(t, "pending", history[1].From)
		assert.Equal(t, &admin, history[1].Responsible)
		assert.Equal(t, "web", history[1].CustomProperty("channel.name"))
		assert.Equal(t, []string{"total"}, history[1].ChangedAttributeNames())

		loaded, err := h.registry.Load(ctx, order.Ref())
		require.NoError(t, err)
		assert.Equal(t, "active", loaded.StateOf(statusField))
	})

	t.Run("criteria", func(t *testing.T) {
		genesis, err := h.storage.CountTransitions(ctx, statemachine.HistoryCriteria{From: []string{""}})
		require.NoError(t, err)
		assert.Equal(t, 1, genesis)

		byChannel, err := h.storage.QueryTransitions(ctx, statemachine.HistoryCriteria{
			Responsible:    &admin,
			CustomProperty: map[string]any{"channel.name": "web"},
		})
		require.NoError(t, err)
		assert.Len(t, byChannel, 1)

		latest, err := h.storage.LatestTransition(ctx, statemachine.HistoryCriteria{
			Entities: []statemachine.Ref{order.Ref()},
			To:       []string{"completed"},
		})
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("failed save rolls back", func(t *testing.T) {
		before, err := h.storage.CountTransitions(ctx, statemachine.HistoryCriteria{})
		require.NoError(t, err)

		stranger := statemachine.NewModel("invoice", 1, map[string]any{statusField: "pending"})
		h.registry.MustRegister("invoice", statusField, statemachine.MustNew(statemachine.StringState("pending"),
			statemachine.WithTransition(statemachine.StringState("pending"), statemachine.StringState("paid"))))

		err = h.engine.TransitionTo(ctx, stranger, statusField, nil, statemachine.StringState("paid"))
		assert.ErrorIs(t, err, pgstore.ErrNoEntityWriter)
		assert.Equal(t, "pending", stranger.StateOf(statusField))

		after, err := h.storage.CountTransitions(ctx, statemachine.HistoryCriteria{})
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("panic rolls back", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = h.storage.WithTx(ctx, func(ctx context.Context, tx statemachine.Tx) error {
				_ = tx.CreateTransition(ctx, &statemachine.Transition{
					Entity: statemachine.NewRef(orderType, 2), Field: statusField, To: "pending",
				})
				panic("boom")
			})
		})

		n, err := h.storage.CountTransitions(ctx, statemachine.HistoryCriteria{
			Entities: []statemachine.Ref{statemachine.NewRef(orderType, 2)},
		})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStorage_Pending(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	order := statemachine.NewModel(orderType, 1, nil)
	require.NoError(t, h.engine.Create(ctx, order))

	later, err := h.engine.PostponeTransitionTo(ctx, order, statusField, nil, statemachine.StringState("cancelled"),
		time.Now().Add(time.Hour))
	require.NoError(t, err)
	due, err := h.engine.PostponeTransitionTo(ctx, order, statusField, nil, statemachine.StringState("active"),
		time.Now().Add(-time.Minute), statemachine.WithCustomProperties(map[string]any{"source": "schedule"}))
	require.NoError(t, err)
	assert.Greater(t, due.ID, later.ID)
	assert.False(t, due.CreatedAt.IsZero())

	records, err := h.storage.DuePending(ctx, time.Now(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, due.ID, records[0].ID)
	assert.Equal(t, "schedule", records[0].CustomProperties["source"])

	d, err := statemachine.NewDispatcher(h.engine)
	require.NoError(t, err)
	result, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	remaining, err := h.storage.QueryPending(ctx, statemachine.PendingCriteria{Entities: []statemachine.Ref{order.Ref()}})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, due.ID, remaining[0].ID)
	assert.True(t, remaining[0].IsApplied())

	err = h.storage.MarkApplied(ctx, due.ID, time.Now())
	assert.ErrorIs(t, err, statemachine.ErrAlreadyApplied)
	err = h.storage.MarkApplied(ctx, due.ID+1000, time.Now())
	assert.ErrorIs(t, err, statemachine.ErrPendingNotFound)

	stored, err := h.storage.PendingByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", stored.To)
	assert.True(t, stored.IsApplied())
	_, err = h.storage.PendingByID(ctx, later.ID)
	assert.ErrorIs(t, err, statemachine.ErrPendingNotFound)

	var status string
	err = h.pool.QueryRow(ctx, "SELECT attributes->>'status' FROM "+pgx.Identifier{h.orders}.Sanitize()+" WHERE id = $1", "1").Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "active", status)
}
