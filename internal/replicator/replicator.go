// Package replicator is the gate's replication worker (C5): it drains the
// local outbox and POSTs batches to the backend's ingestion receiver,
// applying the ack/reject/retry bookkeeping described in §4.5.
package replicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/model"
)

const maxStoredErrorLen = 500

// Worker drains the gate_outbox_events table and replicates it to the
// backend, one batch per tick.
type Worker struct {
	Store      *gatestore.Store
	httpClient *retryablehttp.Client
	BackendURL string
	APIKey     string
	BatchSize  int
	Logger     *zap.Logger
}

// New builds a Worker. The underlying retryablehttp.Client retries transport
// errors and 5xx responses a small, bounded number of times before this
// package's own per-row backoff takes over across ticks. timeout is the
// per-request HTTP timeout (SYNC_TIMEOUT_SECONDS); zero leaves the
// retryablehttp default in place.
func New(store *gatestore.Store, backendURL, apiKey string, batchSize int, timeout time.Duration, logger *zap.Logger) *Worker {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil // this package logs through zap instead
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}

	return &Worker{
		Store:      store,
		httpClient: client,
		BackendURL: backendURL,
		APIKey:     apiKey,
		BatchSize:  batchSize,
		Logger:     logger,
	}
}

// Run ticks every interval until ctx is cancelled, replicating one batch per
// tick. Returns ctx.Err() on cancellation.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.RunOnce(ctx)
			if err != nil {
				w.Logger.Error("replication tick failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.Logger.Info("replication tick", zap.Int("claimed", n))
			}
		}
	}
}

// RunOnce claims, sends, and reconciles at most one batch (§4.5 steps 1-5).
// Claim, POST, and reconciliation all happen inside the single transaction
// that holds the SKIP LOCKED row locks.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	var claimed int
	err := w.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := time.Now().UTC()
		batch, err := gatestore.ClaimPendingBatch(ctx, tx, w.BatchSize, now)
		if err != nil {
			return err
		}
		claimed = len(batch)
		if len(batch) == 0 {
			return nil
		}

		events, err := toWireEvents(batch)
		if err != nil {
			return fmt.Errorf("replicator: build wire events: %w", err)
		}

		resp, postErr := w.post(ctx, model.SyncRequest{Events: events})
		if postErr != nil {
			return w.retryBatch(ctx, tx, batch, now, postErr.Error())
		}
		return w.applyResponse(ctx, tx, batch, resp, now)
	})
	return claimed, err
}

func toWireEvents(batch []*model.OutboxEvent) ([]model.WireEvent, error) {
	events := make([]model.WireEvent, 0, len(batch))
	for _, ev := range batch {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", ev.EventID, err)
		}
		var we model.WireEvent
		if err := json.Unmarshal(raw, &we); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", ev.EventID, err)
		}
		we.EventID = ev.EventID
		we.Type = ev.EventType
		events = append(events, we)
	}
	return events, nil
}

// Send posts a pre-built batch of wire events and returns the backend's
// response. It satisfies repair.Sender, letting the repair replayer (C8)
// reuse the exact same HTTP client and wire semantics as the regular
// replication tick.
func (w *Worker) Send(ctx context.Context, events []model.WireEvent) (*model.SyncResponse, error) {
	return w.post(ctx, model.SyncRequest{Events: events})
}

func (w *Worker) post(ctx context.Context, body model.SyncRequest) (*model.SyncResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("replicator: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.BackendURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("replicator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GATE-API-KEY", w.APIKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicator: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("replicator: backend responded %d: %s", resp.StatusCode, snippet)
	}

	var sr model.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("replicator: decode response: %w", err)
	}
	return &sr, nil
}

// applyResponse implements §4.5 step 4: acked rows and rejected rows both
// clear sent_at into the past (i.e. set it), only differing in last_error.
// Any row the response is silent about is treated as a transient failure
// and scheduled for retry, rather than assumed successful.
func (w *Worker) applyResponse(ctx context.Context, tx pgx.Tx, batch []*model.OutboxEvent, resp *model.SyncResponse, now time.Time) error {
	groups := classifyBatch(batch, resp)

	if len(groups.ackIDs) > 0 {
		if err := gatestore.MarkSent(ctx, tx, groups.ackIDs, now, ""); err != nil {
			return err
		}
	}
	for _, r := range groups.rejected {
		if err := gatestore.MarkSent(ctx, tx, []uuid.UUID{r.id}, now, "rejected: "+r.reason); err != nil {
			return err
		}
	}
	if len(groups.unresolved) > 0 {
		if err := w.retryBatch(ctx, tx, groups.unresolved, now, "event missing from sync response"); err != nil {
			return err
		}
	}
	return nil
}

type rejectedRow struct {
	id     uuid.UUID
	reason string
}

type responseGroups struct {
	ackIDs     []uuid.UUID
	rejected   []rejectedRow
	unresolved []*model.OutboxEvent
}

// classifyBatch sorts a claimed batch into acked / rejected / unresolved
// buckets against the backend's response — pulled out of applyResponse so
// the decision logic is testable without a live transaction.
func classifyBatch(batch []*model.OutboxEvent, resp *model.SyncResponse) responseGroups {
	acked := make(map[string]bool, len(resp.AckedEventIDs))
	for _, id := range resp.AckedEventIDs {
		acked[id] = true
	}
	rejectedReasons := make(map[string]string, len(resp.Rejected))
	for _, r := range resp.Rejected {
		rejectedReasons[r.EventID] = r.Error
	}

	var groups responseGroups
	for _, ev := range batch {
		key := ev.EventID.String()
		switch {
		case acked[key]:
			groups.ackIDs = append(groups.ackIDs, ev.EventID)
		case rejectedReasons[key] != "":
			groups.rejected = append(groups.rejected, rejectedRow{id: ev.EventID, reason: rejectedReasons[key]})
		default:
			groups.unresolved = append(groups.unresolved, ev)
		}
	}
	return groups
}

// retryBatch implements §4.5 step 5, scheduling each row's own backoff
// individually since attempt_count differs per row.
func (w *Worker) retryBatch(ctx context.Context, tx pgx.Tx, batch []*model.OutboxEvent, now time.Time, errMsg string) error {
	truncated := truncateError(errMsg)
	for _, ev := range batch {
		next := now.Add(backoffDuration(ev.AttemptCount + 1))
		if err := gatestore.MarkRetry(ctx, tx, []uuid.UUID{ev.EventID}, now, next, truncated); err != nil {
			return err
		}
	}
	return nil
}

// backoffDuration implements §4.5's formula:
// min(300, 2^min(attempt,10) + U[0,2]) seconds.
func backoffDuration(attempt int) time.Duration {
	exp := attempt
	if exp > 10 {
		exp = 10
	}
	seconds := math.Pow(2, float64(exp)) + rand.Float64()*2
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds * float64(time.Second))
}

func truncateError(s string) string {
	if len(s) <= maxStoredErrorLen {
		return s
	}
	return s[:maxStoredErrorLen]
}
