// Package ingest is the backend's ingestion receiver (C6): it accepts
// batches of gate-replicated events, applies them idempotently, and
// publishes a best-effort domain-event notification for each applied row.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/backendstore"
	"github.com/library-systems/gatehouse/internal/model"
	"github.com/library-systems/gatehouse/internal/platform/natsclient"
)

// Handler implements the POST /sync endpoint.
type Handler struct {
	Store     *backendstore.Store
	NATS      *natsclient.Client
	Logger    *zap.Logger
	MaxEvents int
}

// New builds a Handler. maxEvents is SYNC_MAX_EVENTS (§4.5's "batch cap").
func New(store *backendstore.Store, nc *natsclient.Client, logger *zap.Logger, maxEvents int) *Handler {
	return &Handler{Store: store, NATS: nc, Logger: logger, MaxEvents: maxEvents}
}

// Register binds the sync route to the Echo instance.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/sync", h.HandleSync)
}

// HandleSync implements §4.6.
func (h *Handler) HandleSync(c echo.Context) error {
	var req model.SyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if h.MaxEvents > 0 && len(req.Events) > h.MaxEvents {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch exceeds maximum events per request",
		})
	}

	ctx := c.Request().Context()
	resp := model.SyncResponse{
		AckedEventIDs: []string{},
		Rejected:      []model.RejectedEvent{},
	}

	for _, ev := range req.Events {
		if validationErr := validate(ev); validationErr != "" {
			resp.Rejected = append(resp.Rejected, model.RejectedEvent{
				EventID: ev.EventID.String(),
				Error:   validationErr,
			})
			continue
		}

		applied, err := h.applyOne(ctx, ev)
		if err != nil {
			if errors.Is(err, backendstore.ErrAlreadyProcessed) {
				resp.AckedEventIDs = append(resp.AckedEventIDs, ev.EventID.String())
				continue
			}
			// Transient DB failure: re-raise so the client retries the
			// whole batch rather than silently dropping events.
			h.Logger.Error("ingest: event apply failed", zap.String("eventId", ev.EventID.String()), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		resp.AckedEventIDs = append(resp.AckedEventIDs, ev.EventID.String())
		if applied {
			h.publishBestEffort(ev)
		}
	}

	resp.ServerTime = time.Now().UTC()
	return c.JSON(http.StatusOK, resp)
}

func validate(ev model.WireEvent) string {
	if ev.EventID == uuid.Nil {
		return "Missing eventId"
	}
	switch ev.Type {
	case model.EventEntry, model.EventEntryExpiredSeen:
		if ev.EntryID == nil {
			return "ENTRY requires entryId"
		}
		if ev.Roll == "" {
			return "ENTRY requires roll"
		}
	case model.EventExit:
		if ev.Roll == "" {
			return "EXIT requires roll"
		}
	default:
		return "Unknown event type"
	}
	return ""
}

// applyOne runs one event through a dedicated transaction: the idempotency
// guard insert, then the domain mutation. Returns applied=false when the
// event was already processed (ack without mutation, §4.6 step 2) together
// with backendstore.ErrAlreadyProcessed, which the caller can match on.
func (h *Handler) applyOne(ctx context.Context, ev model.WireEvent) (bool, error) {
	applied := false
	err := h.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := backendstore.InsertProcessedEvent(ctx, tx, ev.EventID, string(ev.Type)); err != nil {
			return err
		}
		switch ev.Type {
		case model.EventEntry, model.EventEntryExpiredSeen:
			if err := applyEntryEvent(ctx, tx, ev); err != nil {
				return err
			}
		case model.EventExit:
			if err := applyExitEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if errors.Is(err, backendstore.ErrAlreadyProcessed) {
		return false, backendstore.ErrAlreadyProcessed
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

func applyEntryEvent(ctx context.Context, tx pgx.Tx, ev model.WireEvent) error {
	if err := backendstore.EnsureUser(ctx, tx, ev.Roll); err != nil {
		return err
	}

	status := model.EntryEntered
	if ev.Type == model.EventEntryExpiredSeen {
		status = model.EntryExpired
	}
	if ev.Status != nil && *ev.Status != "" {
		status = model.EntryStatus(*ev.Status)
	}

	flag := model.NormalEntry
	if ev.EntryFlag != nil && *ev.EntryFlag != "" {
		flag = model.EntryFlag(*ev.EntryFlag)
	}

	scannedAt := time.Now().UTC()
	if ev.ScannedAt != nil {
		scannedAt = *ev.ScannedAt
	}

	_, err := backendstore.UpsertEntryLWW(ctx, tx, *ev.EntryID, ev.Roll, scannedAt, status, flag, ev.Laptop, ev.Extra)
	return err
}

func applyExitEvent(ctx context.Context, tx pgx.Tx, ev model.WireEvent) error {
	if err := backendstore.EnsureUser(ctx, tx, ev.Roll); err != nil {
		return err
	}

	var exitID uuid.UUID
	if ev.ExitID != nil {
		exitID = *ev.ExitID
	} else {
		exitID = ev.EventID
	}

	if ev.EntryID != nil {
		if err := backendstore.GetOrCreateSkeletalEntry(ctx, tx, *ev.EntryID, ev.Roll); err != nil {
			return err
		}
	}

	flag := model.NormalExit
	if ev.ExitFlag != nil && *ev.ExitFlag != "" {
		flag = model.ExitFlag(*ev.ExitFlag)
	}

	scannedAt := time.Now().UTC()
	if ev.ScannedAt != nil {
		scannedAt = *ev.ScannedAt
	}

	_, err := backendstore.UpsertExitLWW(ctx, tx, exitID, ev.Roll, ev.EntryID, scannedAt, flag, ev.Laptop, ev.Extra, ev.DeviceMeta)
	return err
}

// publishBestEffort publishes the §3.1 domain-event envelope; a failure
// here never fails the ack — the event is already durably applied.
func (h *Handler) publishBestEffort(ev model.WireEvent) {
	if h.NATS == nil {
		return
	}
	subject, body, err := domainEventEnvelope(ev)
	if err != nil {
		h.Logger.Warn("ingest: failed to build domain event envelope", zap.Error(err))
		return
	}
	if err := h.NATS.PublishDomainEvent(subject, body); err != nil {
		h.Logger.Warn("ingest: best-effort domain event publish failed",
			zap.String("eventId", ev.EventID.String()), zap.Error(err))
	}
}
