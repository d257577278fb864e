// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ storage.Store = (*Store)(nil)

func New(pool *db.Pool) *Store {
	return &Store{pool: pool, outbox: outbox.NewRepository(pool)}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return db.ReadyCheck(s.pool)(ctx) }

func (s *Store) Close() { s.pool.Close() }

// WithProviderLock serializes writers for one provider across every instance
// with a transaction-scoped advisory lock.
func (s *Store) WithProviderLock(ctx context.Context, providerID string, fn func(context.Context, storage.Tx) error) error {
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('provider:' || $1))`, providerID); err != nil {
			return mapErr("acquire provider lock", err)
		}
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

func (s *Store) ProcessBatch(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) (int, error) {
	return s.outbox.ProcessBatch(ctx, limit, fn)
}

// mapErr turns driver failures into scheduling errors. Domain errors pass
// through untouched.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	if db.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// parseID turns an external id into a uuid so lookups hit the primary key
// index. Anything that is not a uuid cannot name a row.
func parseID(id, resource string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, model.NotFound(resource)
	}
	return parsed, nil
}
