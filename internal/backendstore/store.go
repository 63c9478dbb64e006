// Package backendstore is the backend-side canonical store (C2): users,
// entry log, exit log, and the ProcessedGateEvent idempotency set.
package backendstore

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the backend's connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// Open parses dsn and connects an OTel-instrumented pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("backendstore: parse dsn: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backendstore: connect: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// WithTx runs fn inside a single transaction — C6 processes every event in
// its own transaction, with the ProcessedGateEvent insert as the
// idempotency guard (§4.6 step 2).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("backendstore: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("backendstore: commit tx: %w", err)
	}
	return nil
}
