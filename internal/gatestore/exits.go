package gatestore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/library-systems/gatehouse/internal/model"
)

// ExistsExitForEntry reports whether any ExitLog already references entryID
// (the duplicate-exit check in §4.3 step 2).
func ExistsExitForEntry(ctx context.Context, q Querier, entryID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM exit_logs WHERE entry_id = $1)`, entryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("gatestore: check exit exists for entry %s: %w", entryID, err)
	}
	return exists, nil
}

// ListExitsFiltered is the offset-paginated ExitLog enumeration used by the
// full-replay repair tool (§4.8), mirroring ListEntriesFiltered.
func ListExitsFiltered(ctx context.Context, q Querier, f EntryFilter, limit, offset int) ([]*model.ExitLog, error) {
	sql := `
		SELECT id, roll, entry_id, exit_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM exit_logs WHERE 1=1`
	var args []interface{}
	if f.Roll != "" {
		args = append(args, f.Roll)
		sql += fmt.Sprintf(" AND roll = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, limit, offset)
	sql += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("gatestore: list exits filtered: %w", err)
	}
	defer rows.Close()

	var out []*model.ExitLog
	for rows.Next() {
		x, err := scanExit(rows)
		if err != nil {
			return nil, fmt.Errorf("gatestore: scan exit: %w", err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func scanExit(row rowScanner) (*model.ExitLog, error) {
	var x model.ExitLog
	var extraJSON, deviceMetaJSON []byte
	if err := row.Scan(
		&x.ID, &x.Roll, &x.EntryID, &x.ExitFlag, &x.Laptop, &extraJSON, &deviceMetaJSON,
		&x.Source, &x.OS, &x.DeviceID, &x.CreatedAt, &x.ScannedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(extraJSON, &x.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal extra: %w", err)
	}
	if err := unmarshalJSONB(deviceMetaJSON, &x.DeviceMeta); err != nil {
		return nil, fmt.Errorf("unmarshal device_meta: %w", err)
	}
	return &x, nil
}

// InsertExit creates a new ExitLog row. ExitLog rows are never mutated
// after insert (§3 lifecycle note).
func InsertExit(ctx context.Context, q Querier, x *model.ExitLog) error {
	extraJSON, err := marshalJSONB(x.Extra)
	if err != nil {
		return fmt.Errorf("gatestore: marshal extra: %w", err)
	}
	deviceMetaJSON, err := marshalJSONB(x.DeviceMeta)
	if err != nil {
		return fmt.Errorf("gatestore: marshal device_meta: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO exit_logs
			(id, roll, entry_id, exit_flag, laptop, extra, device_meta,
			 source, os, device_id, created_at, scanned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		x.ID, x.Roll, x.EntryID, x.ExitFlag, x.Laptop, extraJSON, deviceMetaJSON,
		x.Source, x.OS, x.DeviceID, x.CreatedAt, x.ScannedAt)
	if err != nil {
		return fmt.Errorf("gatestore: insert exit %s: %w", x.ID, err)
	}
	return nil
}
