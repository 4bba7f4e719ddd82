package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/transitkit/pkg/pg"
	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EntityWriter persists an entity inside the transition's database transaction.
type EntityWriter func(ctx context.Context, tx pgx.Tx, e statemachine.Entity) error

type Option func(*Storage)

// WithEntityWriter registers how entities of a type tag are saved.
func WithEntityWriter(entityType string, w EntityWriter) Option {
	return func(s *Storage) {
		s.writers[entityType] = w
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Storage) {
		if log != nil {
			s.logger = log
		}
	}
}

// Storage implements statemachine.Storage on PostgreSQL.
type Storage struct {
	db          DB
	transitions string
	pending     string
	writers     map[string]EntityWriter
	logger      *slog.Logger
}

var _ statemachine.Storage = (*Storage)(nil)

func New(db DB, cfg Config, opts ...Option) (*Storage, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Storage{
		db:          db,
		transitions: quoteTable(cfg.TransitionsTable),
		pending:     quoteTable(cfg.PendingTransitionsTable),
		writers:     make(map[string]EntityWriter),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) QueryTransitions(ctx context.Context, c statemachine.HistoryCriteria) ([]statemachine.Transition, error) {
	w := historyWhere(c)
	rows, err := s.db.Query(ctx, "SELECT "+transitionColumns+" FROM "+s.transitions+w.String()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanTransition)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	return records, nil
}

func (s *Storage) CountTransitions(ctx context.Context, c statemachine.HistoryCriteria) (int, error) {
	w := historyWhere(c)
	var n int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM "+s.transitions+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}

func (s *Storage) LatestTransition(ctx context.Context, c statemachine.HistoryCriteria) (*statemachine.Transition, error) {
	w := historyWhere(c)
	rows, err := s.db.Query(ctx, "SELECT "+transitionColumns+" FROM "+s.transitions+w.String()+" ORDER BY id DESC LIMIT 1", w.args...)
	if err != nil {
		return nil, fmt.Errorf("latest transition: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransition)
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest transition: %w", err)
	}
	return &t, nil
}

func (s *Storage) CreatePending(ctx context.Context, p *statemachine.PendingTransition) error {
	props, err := marshalJSON(p.CustomProperties)
	if err != nil {
		return err
	}
	respType, respID := splitRef(p.Responsible)

	err = s.db.QueryRow(ctx,
		"INSERT INTO "+s.pending+` (model_type, model_id, field, "from", "to", custom_properties, `+
			"responsible_type, responsible_id, transition_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"RETURNING id, created_at",
		p.Entity.Type, p.Entity.ID, p.Field, p.From, p.To, props, respType, respID, p.TransitionAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pending transition: %w", err)
	}
	return nil
}

func (s *Storage) QueryPending(ctx context.Context, c statemachine.PendingCriteria) ([]statemachine.PendingTransition, error) {
	w := pendingWhere(c)
	rows, err := s.db.Query(ctx, "SELECT "+pendingColumns+" FROM "+s.pending+w.String()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query pending transitions: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanPending)
	if err != nil {
		return nil, fmt.Errorf("query pending transitions: %w", err)
	}
	return records, nil
}

func (s *Storage) PendingByID(ctx context.Context, id int64) (*statemachine.PendingTransition, error) {
	rows, err := s.db.Query(ctx, "SELECT "+pendingColumns+" FROM "+s.pending+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("pending transition by id: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPending)
	if pg.IsNotFoundError(err) {
		return nil, statemachine.ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pending transition by id: %w", err)
	}
	return &p, nil
}

func (s *Storage) DuePending(ctx context.Context, now time.Time, afterID int64, limit int) ([]statemachine.PendingTransition, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+pendingColumns+" FROM "+s.pending+
			" WHERE applied_at IS NULL AND transition_at <= $1 AND id > $2 ORDER BY id LIMIT $3",
		now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("due pending transitions: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanPending)
	if err != nil {
		return nil, fmt.Errorf("due pending transitions: %w", err)
	}
	return records, nil
}

func (s *Storage) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	return markApplied(ctx, s.db, s.pending, id, at)
}

// WithTx runs fn in a database transaction. pgx rolls back on error and on panic.
func (s *Storage) WithTx(ctx context.Context, fn func(ctx context.Context, tx statemachine.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(t pgx.Tx) error {
		return fn(ctx, &storageTx{storage: s, tx: t})
	})
}

func markApplied(ctx context.Context, q querier, table string, id int64, at time.Time) error {
	tag, err := q.Exec(ctx, "UPDATE "+table+" SET applied_at = $2 WHERE id = $1 AND applied_at IS NULL", id, at)
	if err != nil {
		return fmt.Errorf("mark pending transition applied: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("mark pending transition applied: %w", err)
	}
	if exists {
		return statemachine.ErrAlreadyApplied
	}
	return statemachine.ErrPendingNotFound
}

func scanTransition(row pgx.CollectableRow) (statemachine.Transition, error) {
	var (
		t                statemachine.Transition
		from             *string
		props, changed   []byte
		respType, respID *string
	)
	err := row.Scan(&t.ID, &t.Entity.Type, &t.Entity.ID, &t.Field, &from, &t.To,
		&props, &respType, &respID, &changed, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if from != nil {
		t.From = *from
	}
	t.Responsible = joinRef(respType, respID)
	if err := unmarshalJSON(props, &t.CustomProperties); err != nil {
		return t, err
	}
	if err := unmarshalJSON(changed, &t.ChangedAttributes); err != nil {
		return t, err
	}
	return t, nil
}

func scanPending(row pgx.CollectableRow) (statemachine.PendingTransition, error) {
	var (
		p                statemachine.PendingTransition
		props            []byte
		respType, respID *string
	)
	err := row.Scan(&p.ID, &p.Entity.Type, &p.Entity.ID, &p.Field, &p.From, &p.To,
		&props, &respType, &respID, &p.TransitionAt, &p.AppliedAt, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Responsible = joinRef(respType, respID)
	if err := unmarshalJSON(props, &p.CustomProperties); err != nil {
		return p, err
	}
	return p, nil
}

// marshalJSON returns nil for empty values so they are stored as SQL NULL.
func marshalJSON[M ~map[string]V, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func splitRef(ref *statemachine.Ref) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	return &ref.Type, &ref.ID
}

func joinRef(refType, refID *string) *statemachine.Ref {
	if refType == nil || refID == nil {
		return nil
	}
	return &statemachine.Ref{Type: *refType, ID: *refID}
}
