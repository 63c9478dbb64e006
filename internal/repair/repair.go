// Package repair is the operator-invoked full-replay repair tool (C8): it
// re-sends every local EntryLog/ExitLog row to the backend using the row's
// own UUID as the wire eventId, so the replay is a natural no-op wherever
// the backend already has the row and a convergence wherever it doesn't.
package repair

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/model"
)

// DefaultBatchSize is the page size used when the caller doesn't override it.
const DefaultBatchSize = 200

// Filter narrows the replay to a roll and/or a creation-date window.
type Filter struct {
	Roll  string
	Since time.Time
	Until time.Time
}

// Sender is the subset of replicator behaviour repair needs: posting a
// batch and getting back the backend's ack/reject response. The CLI wires
// this to the same HTTP client C5 uses, so both paths exercise identical
// wire semantics.
type Sender interface {
	Send(ctx context.Context, events []model.WireEvent) (*model.SyncResponse, error)
}

// Summary is printed to stderr at the end of a run (§4.8).
type Summary struct {
	EntriesSent  int
	ExitsSent    int
	Rejected     int
	SampleErrors []string
}

const maxSampleErrors = 5

// RunFull replays every EntryLog then every ExitLog matching f, in
// offset-paginated windows of batchSize, mirroring the original's two
// independent entry/exit replay passes.
func RunFull(ctx context.Context, store *gatestore.Store, sender Sender, f Filter, batchSize int, logger *zap.Logger) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	summary := &Summary{}

	gf := gatestore.EntryFilter{Roll: f.Roll, Since: f.Since, Until: f.Until}

	if err := replayEntries(ctx, store, gf, batchSize, sender, summary, logger); err != nil {
		return summary, fmt.Errorf("repair: replay entries: %w", err)
	}
	if err := replayExits(ctx, store, gf, batchSize, sender, summary, logger); err != nil {
		return summary, fmt.Errorf("repair: replay exits: %w", err)
	}
	return summary, nil
}

func replayEntries(ctx context.Context, store *gatestore.Store, f gatestore.EntryFilter, batchSize int, sender Sender, summary *Summary, logger *zap.Logger) error {
	offset := 0
	for {
		page, err := gatestore.ListEntriesFiltered(ctx, store.Pool, f, batchSize, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		events := make([]model.WireEvent, len(page))
		for i, e := range page {
			events[i] = entryToWireEvent(e)
		}
		if err := sendAndTally(ctx, sender, events, summary); err != nil {
			return err
		}
		summary.EntriesSent += len(page)
		logger.Info("repair: replayed entry page", zap.Int("count", len(page)), zap.Int("offset", offset))

		if len(page) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

func replayExits(ctx context.Context, store *gatestore.Store, f gatestore.EntryFilter, batchSize int, sender Sender, summary *Summary, logger *zap.Logger) error {
	offset := 0
	for {
		page, err := gatestore.ListExitsFiltered(ctx, store.Pool, f, batchSize, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		events := make([]model.WireEvent, len(page))
		for i, x := range page {
			events[i] = exitToWireEvent(x)
		}
		if err := sendAndTally(ctx, sender, events, summary); err != nil {
			return err
		}
		summary.ExitsSent += len(page)
		logger.Info("repair: replayed exit page", zap.Int("count", len(page)), zap.Int("offset", offset))

		if len(page) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

func sendAndTally(ctx context.Context, sender Sender, events []model.WireEvent, summary *Summary) error {
	resp, err := sender.Send(ctx, events)
	if err != nil {
		return err
	}
	summary.Rejected += len(resp.Rejected)
	for _, r := range resp.Rejected {
		if len(summary.SampleErrors) < maxSampleErrors {
			summary.SampleErrors = append(summary.SampleErrors, fmt.Sprintf("%s: %s", r.EventID, r.Error))
		}
	}
	return nil
}

// entryToWireEvent uses the row's own id as eventId — the deterministic
// idempotency key that makes repeated replays converge (§4.8).
func entryToWireEvent(e *model.EntryLog) model.WireEvent {
	status := string(e.Status)
	var flag *string
	if e.EntryFlag != nil {
		f := string(*e.EntryFlag)
		flag = &f
	}
	return model.WireEvent{
		EventID:    e.ID,
		Type:       model.EventEntry,
		EntryID:    &e.ID,
		Roll:       e.Roll,
		ScannedAt:  e.ScannedAt,
		Status:     &status,
		EntryFlag:  flag,
		Laptop:     e.Laptop,
		Extra:      e.Extra,
		DeviceMeta: e.DeviceMeta,
		DeviceID:   e.DeviceID,
		Source:     e.Source,
		OS:         e.OS,
	}
}

func exitToWireEvent(x *model.ExitLog) model.WireEvent {
	flag := string(x.ExitFlag)
	return model.WireEvent{
		EventID:    x.ID,
		Type:       model.EventExit,
		ExitID:     &x.ID,
		EntryID:    x.EntryID,
		Roll:       x.Roll,
		ScannedAt:  x.ScannedAt,
		ExitFlag:   &flag,
		Laptop:     x.Laptop,
		Extra:      x.Extra,
		DeviceMeta: x.DeviceMeta,
		DeviceID:   x.DeviceID,
		Source:     x.Source,
		OS:         x.OS,
	}
}
