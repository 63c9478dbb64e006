package gatestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/library-systems/gatehouse/internal/model"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("gatestore: not found")

// GetEntryByID fetches one EntryLog row, or ErrNotFound.
func GetEntryByID(ctx context.Context, q Querier, id uuid.UUID) (*model.EntryLog, error) {
	row := q.QueryRow(ctx, `
		SELECT id, roll, status, entry_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM entry_logs WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gatestore: get entry %s: %w", id, err)
	}
	return entry, nil
}

// ListEnteredByRoll returns every EntryLog for roll currently ENTERED,
// ordered oldest-first. Callers that intend to bulk-expire this set MUST
// materialise it (as this method does, returning a slice) before issuing
// the bulk update — see §4.3's "ordering hazard" note.
func ListEnteredByRoll(ctx context.Context, q Querier, roll string) ([]*model.EntryLog, error) {
	rows, err := q.Query(ctx, `
		SELECT id, roll, status, entry_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM entry_logs WHERE roll = $1 AND status = 'ENTERED'
		ORDER BY created_at ASC`, roll)
	if err != nil {
		return nil, fmt.Errorf("gatestore: list entered for %q: %w", roll, err)
	}
	defer rows.Close()

	var out []*model.EntryLog
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("gatestore: scan entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// MostRecentEnteredByRoll picks the latest-created ENTERED EntryLog for
// roll, used by exit-mode emergency-token resolution (§4.3).
func MostRecentEnteredByRoll(ctx context.Context, q Querier, roll string) (*model.EntryLog, error) {
	row := q.QueryRow(ctx, `
		SELECT id, roll, status, entry_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM entry_logs WHERE roll = $1 AND status = 'ENTERED'
		ORDER BY created_at DESC LIMIT 1`, roll)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gatestore: most recent entered for %q: %w", roll, err)
	}
	return entry, nil
}

// ListEnteredCreatedBefore returns every ENTERED EntryLog row created at or
// before cutoff, used by the midnight closer (§4.7) to find abandoned scans.
func ListEnteredCreatedBefore(ctx context.Context, q Querier, cutoff time.Time) ([]*model.EntryLog, error) {
	rows, err := q.Query(ctx, `
		SELECT id, roll, status, entry_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM entry_logs WHERE status = 'ENTERED' AND created_at <= $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("gatestore: list entered created before %s: %w", cutoff, err)
	}
	defer rows.Close()

	var out []*model.EntryLog
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("gatestore: scan entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// EntryFilter narrows ListEntriesFiltered's result set for the repair
// replayer (C8); zero values mean "no filter on this dimension".
type EntryFilter struct {
	Roll  string
	Since time.Time
	Until time.Time
}

// ListEntriesFiltered is the offset-paginated enumeration used by the
// full-replay repair tool (§4.8).
func ListEntriesFiltered(ctx context.Context, q Querier, f EntryFilter, limit, offset int) ([]*model.EntryLog, error) {
	sql := `
		SELECT id, roll, status, entry_flag, laptop, extra, device_meta,
		       source, os, device_id, created_at, scanned_at
		FROM entry_logs WHERE 1=1`
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
		return nil, fmt.Errorf("gatestore: list entries filtered: %w", err)
	}
	defer rows.Close()

	var out []*model.EntryLog
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("gatestore: scan entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ExpireEntries bulk-transitions the given ids to EXPIRED with scanned_at
// := ts. Must be called only after the caller has already snapshotted
// whatever set of ids it intends to report on (§4.3).
func ExpireEntries(ctx context.Context, q Querier, ids []uuid.UUID, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE entry_logs SET status = 'EXPIRED', scanned_at = $2
		WHERE id = ANY($1)`, ids, ts)
	if err != nil {
		return fmt.Errorf("gatestore: expire entries: %w", err)
	}
	return nil
}

// InsertEntry creates a new EntryLog row (first-observer entry, or the
// skeletal PENDING rows issuance/repair paths create directly).
func InsertEntry(ctx context.Context, q Querier, e *model.EntryLog) error {
	extraJSON, err := marshalJSONB(e.Extra)
	if err != nil {
		return fmt.Errorf("gatestore: marshal extra: %w", err)
	}
	deviceMetaJSON, err := marshalJSONB(e.DeviceMeta)
	if err != nil {
		return fmt.Errorf("gatestore: marshal device_meta: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO entry_logs
			(id, roll, status, entry_flag, laptop, extra, device_meta,
			 source, os, device_id, created_at, scanned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.Roll, e.Status, e.EntryFlag, e.Laptop, extraJSON, deviceMetaJSON,
		e.Source, e.OS, e.DeviceID, e.CreatedAt, e.ScannedAt)
	if err != nil {
		return fmt.Errorf("gatestore: insert entry %s: %w", e.ID, err)
	}
	return nil
}

// TransitionEntryToExited updates status=EXITED WITHOUT touching scanned_at
// — overwriting it would destroy the original entry-scan timestamp (§4.3
// step 4 of exit mode).
func TransitionEntryToExited(ctx context.Context, q Querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE entry_logs SET status = 'EXITED' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("gatestore: transition entry %s to exited: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*model.EntryLog, error) {
	var e model.EntryLog
	var extraJSON, deviceMetaJSON []byte
	if err := row.Scan(
		&e.ID, &e.Roll, &e.Status, &e.EntryFlag, &e.Laptop, &extraJSON, &deviceMetaJSON,
		&e.Source, &e.OS, &e.DeviceID, &e.CreatedAt, &e.ScannedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(extraJSON, &e.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal extra: %w", err)
	}
	if err := unmarshalJSONB(deviceMetaJSON, &e.DeviceMeta); err != nil {
		return nil, fmt.Errorf("unmarshal device_meta: %w", err)
	}
	return &e, nil
}
