// Package midnight is the gate's stale-entry closer (C7): a daily sweep
// that auto-exits anyone who scanned in and never scanned out.
package midnight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/model"
	"github.com/library-systems/gatehouse/internal/outbox"
)

// DefaultStaleHours is the default threshold (§4.7): an ENTERED row at
// least this old, measured from created_at, is considered abandoned.
const DefaultStaleHours = 20

// Result summarises one run of Close.
type Result struct {
	Candidates []*model.EntryLog
	Errors     []error
	DryRun     bool
}

// Close implements §4.7. It is called identically by the one-shot CLI
// command and the cron-triggered daemon path so the two invocations can
// never drift in behaviour.
func Close(ctx context.Context, store *gatestore.Store, staleHours int, dryRun bool, logger *zap.Logger) (*Result, error) {
	cutoff := cutoffFor(staleHours, time.Now().UTC())

	stale, err := gatestore.ListEnteredCreatedBefore(ctx, store.Pool, cutoff)
	if err != nil {
		return nil, fmt.Errorf("midnight: list stale entries: %w", err)
	}

	result := &Result{DryRun: dryRun, Candidates: stale}
	if dryRun {
		return result, nil
	}

	// Each entry gets its own transaction so one bad row can't abort the
	// rest of the sweep (§4.7 "errors on one entry must not abort others").
	for _, e := range stale {
		now := time.Now().UTC()
		err := store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return closeOne(ctx, tx, e, now)
		})
		if err != nil {
			logger.Error("midnight: failed to close entry", zap.String("entryId", e.ID.String()), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Errorf("entry %s: %w", e.ID, err))
		}
	}
	return result, nil
}

// cutoffFor applies the §4.7 default (20 hours) when staleHours is unset.
func cutoffFor(staleHours int, now time.Time) time.Time {
	if staleHours <= 0 {
		staleHours = DefaultStaleHours
	}
	return now.Add(-time.Duration(staleHours) * time.Hour)
}

func closeOne(ctx context.Context, tx pgx.Tx, e *model.EntryLog, now time.Time) error {
	deviceMeta := map[string]interface{}{"source": "midnight_job"}
	exit := &model.ExitLog{
		ID:         uuid.New(),
		Roll:       e.Roll,
		EntryID:    &e.ID,
		ExitFlag:   model.AutoExit,
		Laptop:     e.Laptop,
		Extra:      e.Extra,
		DeviceMeta: deviceMeta,
		CreatedAt:  now,
		ScannedAt:  &now,
	}
	if err := gatestore.InsertExit(ctx, tx, exit); err != nil {
		return err
	}
	if _, err := outbox.Append(ctx, tx, model.EventExit, outbox.ExitBody(exit)); err != nil {
		return err
	}

	if err := gatestore.ExpireEntries(ctx, tx, []uuid.UUID{e.ID}, now); err != nil {
		return err
	}
	e.Status = model.EntryExpired
	e.ScannedAt = &now
	if _, err := outbox.Append(ctx, tx, model.EventEntryExpiredSeen, outbox.EntryBody(e)); err != nil {
		return err
	}
	return nil
}
