// Package scanstate is the gate's scan state machine (C3): given a verified
// or controlled-fallback-decoded token payload, it decides the entry/exit
// outcome, mutates the local store, and appends the outbox events that
// document the decision, all inside the caller's transaction.
//
// DUPLICATE_ENTRY is declared on model.EntryFlag but never constructed here:
// a re-scan of an already-ENTERED token is reported back to the caller as a
// duplicate outcome without writing a new row or flag (§4.3 step 2), so the
// constant exists only for forward compatibility with a stored-duplicate
// design that this state machine doesn't implement.
package scanstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/model"
	"github.com/library-systems/gatehouse/internal/outbox"
	"github.com/library-systems/gatehouse/internal/tokencodec"
)

// EntryOutcome classifies the result of processing an entry-mode scan.
type EntryOutcome string

const (
	EntryAllowed        EntryOutcome = "ALLOWED"
	EntryDuplicateScan  EntryOutcome = "DUPLICATE_SCAN"
	EntryIgnored        EntryOutcome = "IGNORED"
	EntryDeniedExpired  EntryOutcome = "DENIED_EXPIRED"
	EntryDeniedNoRecord EntryOutcome = "DENIED_NO_RECORD"
)

// EntryResult is the outcome of ProcessEntryScan.
type EntryResult struct {
	Outcome        EntryOutcome
	Entry          *model.EntryLog
	DisplacedCount int
}

// ProcessEntryScan implements §4.3's entry-mode decision tree. ts is the
// gate's local wall clock at scan time; viaExpiredFallback marks that the
// token was decoded through tokencodec.VerifyExpiredFallback rather than a
// full Verify.
func ProcessEntryScan(ctx context.Context, tx gatestore.Querier, payload *tokencodec.Payload, viaExpiredFallback bool, ts time.Time, deviceID string) (*EntryResult, error) {
	if viaExpiredFallback {
		return processExpiredFallback(ctx, tx, payload, ts)
	}
	if payload.EntryID == nil {
		return nil, fmt.Errorf("scanstate: entry-mode payload missing entryId")
	}

	entry, err := gatestore.GetEntryByID(ctx, tx, *payload.EntryID)
	if err == nil {
		if entry.Status == model.EntryEntered {
			return &EntryResult{Outcome: EntryDuplicateScan, Entry: entry}, nil
		}
		return &EntryResult{Outcome: EntryIgnored, Entry: entry}, nil
	}
	if !errors.Is(err, gatestore.ErrNotFound) {
		return nil, fmt.Errorf("scanstate: look up entry: %w", err)
	}

	// First observer: compute displacement before mutating anything (the
	// "ordering hazard" — snapshot must precede the bulk update).
	displaced, err := gatestore.ListEnteredByRoll(ctx, tx, payload.Roll)
	if err != nil {
		return nil, fmt.Errorf("scanstate: list entered for displacement: %w", err)
	}
	if len(displaced) > 0 {
		ids := make([]uuid.UUID, len(displaced))
		for i, d := range displaced {
			ids[i] = d.ID
		}
		if err := gatestore.ExpireEntries(ctx, tx, ids, ts); err != nil {
			return nil, fmt.Errorf("scanstate: expire displaced entries: %w", err)
		}
		for _, d := range displaced {
			d.Status = model.EntryExpired
			scanned := ts
			d.ScannedAt = &scanned
			if _, err := outbox.Append(ctx, tx, model.EventEntry, outbox.EntryBody(d)); err != nil {
				return nil, fmt.Errorf("scanstate: emit displaced entry event: %w", err)
			}
		}
	}

	flag := model.NormalEntry
	if len(displaced) > 0 {
		flag = model.ForcedEntry
	}

	if err := gatestore.EnsureUser(ctx, tx, payload.Roll); err != nil {
		return nil, fmt.Errorf("scanstate: ensure user: %w", err)
	}

	scanned := ts
	newEntry := &model.EntryLog{
		ID:         *payload.EntryID,
		Roll:       payload.Roll,
		Status:     model.EntryEntered,
		EntryFlag:  &flag,
		Laptop:     payload.Laptop,
		Extra:      convertExtra(payload.Extra),
		DeviceMeta: payload.DeviceMeta,
		Source:     payload.Source,
		OS:         payload.OS,
		CreatedAt:  ts,
		ScannedAt:  &scanned,
	}
	if deviceID != "" {
		newEntry.DeviceID = &deviceID
	}

	if err := gatestore.InsertEntry(ctx, tx, newEntry); err != nil {
		return nil, fmt.Errorf("scanstate: insert entry: %w", err)
	}
	if _, err := outbox.Append(ctx, tx, model.EventEntry, outbox.EntryBody(newEntry)); err != nil {
		return nil, fmt.Errorf("scanstate: emit new entry event: %w", err)
	}

	return &EntryResult{Outcome: EntryAllowed, Entry: newEntry, DisplacedCount: len(displaced)}, nil
}

// processExpiredFallback implements §4.3 step 1: a token that only decoded
// via the expired-fallback path records an ENTRY_EXPIRED_SEEN and denies.
func processExpiredFallback(ctx context.Context, tx gatestore.Querier, payload *tokencodec.Payload, ts time.Time) (*EntryResult, error) {
	if payload.EntryID == nil {
		return &EntryResult{Outcome: EntryDeniedNoRecord}, nil
	}
	entry, err := gatestore.GetEntryByID(ctx, tx, *payload.EntryID)
	if err != nil {
		if errors.Is(err, gatestore.ErrNotFound) {
			return &EntryResult{Outcome: EntryDeniedNoRecord}, nil
		}
		return nil, fmt.Errorf("scanstate: look up entry for expired fallback: %w", err)
	}

	if err := gatestore.ExpireEntries(ctx, tx, []uuid.UUID{entry.ID}, ts); err != nil {
		return nil, fmt.Errorf("scanstate: expire fallback entry: %w", err)
	}
	entry.Status = model.EntryExpired
	scanned := ts
	entry.ScannedAt = &scanned

	if _, err := outbox.Append(ctx, tx, model.EventEntryExpiredSeen, outbox.EntryBody(entry)); err != nil {
		return nil, fmt.Errorf("scanstate: emit entry_expired_seen event: %w", err)
	}
	return &EntryResult{Outcome: EntryDeniedExpired, Entry: entry}, nil
}

func convertExtra(items []tokencodec.ExtraItem) []model.ExtraItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]model.ExtraItem, len(items))
	for i, it := range items {
		out[i] = model.ExtraItem{Key: it.Key, Value: it.Value}
	}
	return out
}
