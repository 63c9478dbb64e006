package gatestore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/library-systems/gatehouse/internal/model"
)

// InsertOutboxEvent appends a durable replication-queue row (C4). The
// event_id is the idempotency key and must be freshly generated by the
// caller for each distinct logical event.
func InsertOutboxEvent(ctx context.Context, q Querier, ev *model.OutboxEvent) error {
	payloadJSON, err := marshalJSONB(ev.Payload)
	if err != nil {
		return fmt.Errorf("gatestore: marshal outbox payload: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO gate_outbox_events
			(event_id, event_type, payload, created_at, attempt_count)
		VALUES ($1,$2,$3,$4,0)`,
		ev.EventID, ev.EventType, payloadJSON, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("gatestore: insert outbox event %s: %w", ev.EventID, err)
	}
	return nil
}

// ClaimPendingBatch claims up to limit unsent-or-due-for-retry rows,
// oldest-first, using SELECT ... FOR UPDATE SKIP LOCKED so multiple
// replication workers can run concurrently without colliding (§4.5, §5).
// Must be called inside a transaction that the caller commits promptly —
// the row locks are held until then.
func ClaimPendingBatch(ctx context.Context, tx Querier, limit int, now time.Time) ([]*model.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT event_id, event_type, payload, created_at, sent_at,
		       attempt_count, last_attempt_at, next_retry_at, last_error
		FROM gate_outbox_events
		WHERE sent_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("gatestore: claim pending batch: %w", err)
	}
	defer rows.Close()

	var out []*model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		var payloadJSON []byte
		var lastError *string
		if err := rows.Scan(&ev.EventID, &ev.EventType, &payloadJSON, &ev.CreatedAt, &ev.SentAt,
			&ev.AttemptCount, &ev.LastAttemptAt, &ev.NextRetryAt, &lastError); err != nil {
			return nil, fmt.Errorf("gatestore: scan outbox row: %w", err)
		}
		if err := unmarshalJSONB(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("gatestore: unmarshal outbox payload: %w", err)
		}
		if lastError != nil {
			ev.LastError = *lastError
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// MarkSent marks the given event ids as successfully delivered (acked or
// permanently rejected — both clear the row from future claims per I4: a
// sent row never reverts to unsent). lastError, when non-empty, is stored
// verbatim (used for the "rejected: <reason>" case in §4.5 step 4).
func MarkSent(ctx context.Context, q Querier, ids []uuid.UUID, sentAt time.Time, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE gate_outbox_events
		SET sent_at = $2, last_error = $3, last_attempt_at = $2
		WHERE event_id = ANY($1)`, ids, sentAt, lastError)
	if err != nil {
		return fmt.Errorf("gatestore: mark sent: %w", err)
	}
	return nil
}

// MarkRetry bumps attempt_count and schedules the next retry for every id
// in the batch after a transport error or non-2xx response (§4.5 step 5).
func MarkRetry(ctx context.Context, q Querier, ids []uuid.UUID, now time.Time, nextRetryAt time.Time, truncatedErr string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE gate_outbox_events
		SET attempt_count = attempt_count + 1,
		    last_attempt_at = $2,
		    next_retry_at = $3,
		    last_error = $4
		WHERE event_id = ANY($1)`, ids, now, nextRetryAt, truncatedErr)
	if err != nil {
		return fmt.Errorf("gatestore: mark retry: %w", err)
	}
	return nil
}
