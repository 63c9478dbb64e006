package backendstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyProcessed is returned by InsertProcessedEvent when event_id has
// already been recorded — the unique-violation-as-idempotency-lock pattern
// from §4.6 step 2 / I5.
var ErrAlreadyProcessed = errors.New("backendstore: event already processed")

const uniqueViolation = "23505"

// InsertProcessedEvent inserts the ProcessedGateEvent row that serves as
// the transactional guard for applying eventID's side effects (I5). If the
// row already exists, ErrAlreadyProcessed is returned and the caller must
// ack without mutating anything further (I6).
func InsertProcessedEvent(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO processed_gate_events (event_id, event_type, received_at)
		VALUES ($1, $2, now())`, eventID, eventType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("backendstore: insert processed event %s: %w", eventID, err)
	}
	return nil
}
