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

func exitScannedAt(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*time.Time, bool, error) {
	var ts *time.Time
	err := tx.QueryRow(ctx, `SELECT scanned_at FROM exit_logs WHERE id = $1`, id).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ts, true, nil
}

// UpsertExitLWW creates or updates an ExitLog, applying the §4.6 LWW rule.
func UpsertExitLWW(ctx context.Context, tx pgx.Tx, id uuid.UUID, roll string, entryID *uuid.UUID,
	scannedAt time.Time, exitFlag model.ExitFlag, laptop *string, extra []model.ExtraItem,
	deviceMeta map[string]interface{}) (bool, error) {

	existing, found, err := exitScannedAt(ctx, tx, id)
	if err != nil {
		return false, fmt.Errorf("backendstore: read exit %s for LWW: %w", id, err)
	}
	if found && !shouldApplyTimestamp(existing, scannedAt) {
		return false, nil
	}

	extraJSON, err := marshalJSON(extra)
	if err != nil {
		return false, fmt.Errorf("backendstore: marshal extra: %w", err)
	}
	deviceMetaJSON, err := marshalJSON(deviceMeta)
	if err != nil {
		return false, fmt.Errorf("backendstore: marshal device_meta: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO exit_logs (id, roll, entry_id, scanned_at, exit_flag, laptop, extra, device_meta, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (id) DO UPDATE SET
			roll = EXCLUDED.roll,
			entry_id = EXCLUDED.entry_id,
			scanned_at = EXCLUDED.scanned_at,
			exit_flag = EXCLUDED.exit_flag,
			laptop = EXCLUDED.laptop,
			extra = EXCLUDED.extra,
			device_meta = EXCLUDED.device_meta`,
		id, roll, entryID, scannedAt, exitFlag, laptop, extraJSON, deviceMetaJSON)
	if err != nil {
		return false, fmt.Errorf("backendstore: upsert exit %s: %w", id, err)
	}
	return true, nil
}
