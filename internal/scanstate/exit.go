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

// ExitOutcome classifies the result of processing an exit-mode scan.
type ExitOutcome string

const (
	ExitNormal    ExitOutcome = "NORMAL_EXIT"
	ExitEmergency ExitOutcome = "EMERGENCY_EXIT"
	ExitOrphan    ExitOutcome = "ORPHAN_EXIT"
	ExitDuplicate ExitOutcome = "DUPLICATE_EXIT"
)

// ExitResult is the outcome of ProcessExitScan.
type ExitResult struct {
	Outcome ExitOutcome
	Exit    *model.ExitLog
	Entry   *model.EntryLog // nil for ORPHAN_EXIT
}

// ProcessExitScan implements §4.3's exit-mode decision tree.
func ProcessExitScan(ctx context.Context, tx gatestore.Querier, payload *tokencodec.Payload, ts time.Time, deviceID string) (*ExitResult, error) {
	resolved, err := resolveExitEntry(ctx, tx, payload)
	if err != nil {
		return nil, err
	}
	emergency := payload.Type == tokencodec.TypeEmergency

	if resolved != nil {
		exists, err := gatestore.ExistsExitForEntry(ctx, tx, resolved.ID)
		if err != nil {
			return nil, fmt.Errorf("scanstate: check existing exit: %w", err)
		}
		if exists {
			exit, err := newExitLog(ctx, tx, payload, ts, deviceID, model.DuplicateExit, &resolved.ID, payload.DeviceMeta)
			if err != nil {
				return nil, err
			}
			if _, err := outbox.Append(ctx, tx, model.EventExit, outbox.ExitBody(exit)); err != nil {
				return nil, fmt.Errorf("scanstate: emit duplicate exit event: %w", err)
			}
			return &ExitResult{Outcome: ExitDuplicate, Exit: exit, Entry: resolved}, nil
		}
	}

	var flag model.ExitFlag
	deviceMeta := payload.DeviceMeta
	switch {
	case resolved == nil:
		flag = model.OrphanExit
		if payload.EntryID != nil {
			deviceMeta = withClaimedEntryID(deviceMeta, *payload.EntryID)
		}
	case emergency:
		flag = model.EmergencyExit
	default:
		flag = model.NormalExit
	}

	var entryID *uuid.UUID
	if resolved != nil {
		entryID = &resolved.ID
	}
	exit, err := newExitLog(ctx, tx, payload, ts, deviceID, flag, entryID, deviceMeta)
	if err != nil {
		return nil, err
	}

	if resolved != nil {
		if err := gatestore.TransitionEntryToExited(ctx, tx, resolved.ID); err != nil {
			return nil, fmt.Errorf("scanstate: transition entry to exited: %w", err)
		}
		// scanned_at must stay the entry's own value, not ts — only the
		// status changes (§4.3 exit-mode step 4).
		resolved.Status = model.EntryExited
		if _, err := outbox.Append(ctx, tx, model.EventEntry, outbox.EntryBody(resolved)); err != nil {
			return nil, fmt.Errorf("scanstate: emit entry exited event: %w", err)
		}
	}
	if _, err := outbox.Append(ctx, tx, model.EventExit, outbox.ExitBody(exit)); err != nil {
		return nil, fmt.Errorf("scanstate: emit exit event: %w", err)
	}

	outcome := map[model.ExitFlag]ExitOutcome{
		model.OrphanExit:    ExitOrphan,
		model.EmergencyExit: ExitEmergency,
		model.NormalExit:    ExitNormal,
	}[flag]
	return &ExitResult{Outcome: outcome, Exit: exit, Entry: resolved}, nil
}

// resolveExitEntry implements §4.3 exit-mode step 1: try the explicit claim
// first, falling back to the most-recently-entered row for this roll only
// when the token is an emergency token and the claim didn't resolve.
func resolveExitEntry(ctx context.Context, tx gatestore.Querier, payload *tokencodec.Payload) (*model.EntryLog, error) {
	if payload.EntryID != nil {
		entry, err := gatestore.GetEntryByID(ctx, tx, *payload.EntryID)
		switch {
		case err == nil:
			return entry, nil
		case errors.Is(err, gatestore.ErrNotFound):
			// fall through to emergency resolution below
		default:
			return nil, fmt.Errorf("scanstate: look up claimed entry: %w", err)
		}
	}
	if payload.Type != tokencodec.TypeEmergency {
		return nil, nil
	}
	entry, err := gatestore.MostRecentEnteredByRoll(ctx, tx, payload.Roll)
	if err != nil {
		if errors.Is(err, gatestore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanstate: resolve emergency entry: %w", err)
	}
	return entry, nil
}

func newExitLog(ctx context.Context, tx gatestore.Querier, payload *tokencodec.Payload, ts time.Time, deviceID string,
	flag model.ExitFlag, entryID *uuid.UUID, deviceMeta map[string]interface{}) (*model.ExitLog, error) {

	if err := gatestore.EnsureUser(ctx, tx, payload.Roll); err != nil {
		return nil, fmt.Errorf("scanstate: ensure user: %w", err)
	}
	scanned := ts
	exit := &model.ExitLog{
		ID:         uuid.New(),
		Roll:       payload.Roll,
		EntryID:    entryID,
		ExitFlag:   flag,
		Laptop:     payload.Laptop,
		Extra:      convertExtra(payload.Extra),
		DeviceMeta: deviceMeta,
		Source:     payload.Source,
		OS:         payload.OS,
		CreatedAt:  ts,
		ScannedAt:  &scanned,
	}
	if deviceID != "" {
		exit.DeviceID = &deviceID
	}
	if err := gatestore.InsertExit(ctx, tx, exit); err != nil {
		return nil, fmt.Errorf("scanstate: insert exit: %w", err)
	}
	return exit, nil
}

func withClaimedEntryID(meta map[string]interface{}, claimed uuid.UUID) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["claimedEntryId"] = claimed.String()
	return out
}
