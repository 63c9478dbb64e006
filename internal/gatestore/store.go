// Package gatestore is the gate-side local store (C2): users, entry log,
// exit log, and the replication outbox, all in one Postgres database that
// is never queried by the backend directly.
package gatestore

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the gate's connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// Open parses dsn and connects an OTel-instrumented pool, mirroring the
// teacher's cmd/api/main.go pgxpool bootstrap.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("gatestore: parse dsn: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gatestore: connect: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository method run either standalone or inside the caller's
// transaction (the scan state machine needs the latter — §4.3's "commit
// time" invariant requires every mutation and its outbox append share one
// transaction).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("gatestore: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("gatestore: commit tx: %w", err)
	}
	return nil
}
