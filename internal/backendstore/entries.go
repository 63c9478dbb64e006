package backendstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/library-systems/gatehouse/internal/model"
)

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("backendstore: not found")

// entryScannedAt fetches just the scanned_at column, used by the LWW check
// in §4.6 step 3 without pulling the whole row.
func entryScannedAt(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*time.Time, bool, error) {
	var ts *time.Time
	err := tx.QueryRow(ctx, `SELECT scanned_at FROM entry_logs WHERE id = $1`, id).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ts, true, nil
}

// shouldApplyTimestamp implements the LWW rule from §4.6 step 3: an
// existing scanned_at that is strictly greater than the incoming one wins;
// otherwise the incoming event applies. A nil existing timestamp always
// loses to any incoming value (there is nothing to protect yet).
func shouldApplyTimestamp(existing *time.Time, incoming time.Time) bool {
	if existing == nil {
		return true
	}
	return !existing.After(incoming) || existing.Equal(incoming)
}

// UpsertEntryLWW creates or updates an EntryLog, applying the §4.6 LWW
// rule. Returns true if the row was actually written.
func UpsertEntryLWW(ctx context.Context, tx pgx.Tx, id uuid.UUID, roll string, scannedAt time.Time,
	status model.EntryStatus, entryFlag model.EntryFlag, laptop *string, extra []model.ExtraItem) (bool, error) {

	existing, found, err := entryScannedAt(ctx, tx, id)
	if err != nil {
		return false, fmt.Errorf("backendstore: read entry %s for LWW: %w", id, err)
	}
	if found && !shouldApplyTimestamp(existing, scannedAt) {
		return false, nil
	}

	extraJSON, err := marshalJSON(extra)
	if err != nil {
		return false, fmt.Errorf("backendstore: marshal extra: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO entry_logs (id, roll, scanned_at, status, entry_flag, laptop, extra, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		ON CONFLICT (id) DO UPDATE SET
			roll = EXCLUDED.roll,
			scanned_at = EXCLUDED.scanned_at,
			status = EXCLUDED.status,
			entry_flag = EXCLUDED.entry_flag,
			laptop = EXCLUDED.laptop,
			extra = EXCLUDED.extra`,
		id, roll, scannedAt, status, entryFlag, laptop, extraJSON)
	if err != nil {
		return false, fmt.Errorf("backendstore: upsert entry %s: %w", id, err)
	}
	return true, nil
}

// CreatePendingEntry inserts a fresh PENDING EntryLog at issuance time
// (§4.9), before any gate scan has produced a scanned_at.
func CreatePendingEntry(ctx context.Context, tx pgx.Tx, id uuid.UUID, roll string, laptop *string, extra []model.ExtraItem) error {
	extraJSON, err := marshalJSON(extra)
	if err != nil {
		return fmt.Errorf("backendstore: marshal extra: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO entry_logs (id, roll, status, laptop, extra, created_at)
		VALUES ($1,$2,'PENDING',$3,$4, now())`, id, roll, laptop, extraJSON)
	if err != nil {
		return fmt.Errorf("backendstore: create pending entry %s: %w", id, err)
	}
	return nil
}

// MostRecentEnteredByRoll finds the entry id an emergency exit token should
// reference: the most recently created ENTERED EntryLog for roll (§4.9,
// matching views.py:111's status="ENTERED" filter). A roll that only ever
// had a PENDING entry (never scanned in) must 404, not mint an exit.
func MostRecentEnteredByRoll(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}, roll string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT id FROM entry_logs
		WHERE roll = $1 AND status = 'ENTERED'
		ORDER BY created_at DESC LIMIT 1`, roll).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("backendstore: most recent entered for %q: %w", roll, err)
	}
	return id, nil
}

// GetOrCreateSkeletalEntry ensures an EntryLog row exists with status
// PENDING so an EXIT event's entry_id foreign key holds even if the
// matching ENTRY event hasn't arrived yet (§4.6 step 3, the EXIT-before-
// ENTRY open question resolved in DESIGN.md).
func GetOrCreateSkeletalEntry(ctx context.Context, tx pgx.Tx, id uuid.UUID, roll string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entry_logs (id, roll, status, created_at)
		VALUES ($1, $2, 'PENDING', now())
		ON CONFLICT (id) DO NOTHING`, id, roll)
	if err != nil {
		return fmt.Errorf("backendstore: get-or-create skeletal entry %s: %w", id, err)
	}
	return nil
}
