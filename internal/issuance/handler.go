// Package issuance is the backend's token issuance endpoint (C9): it
// allocates EntryLog rows and signs the tokens the gate later verifies.
package issuance

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/backendstore"
	"github.com/library-systems/gatehouse/internal/model"
	"github.com/library-systems/gatehouse/internal/tokencodec"
)

// Handler implements the entry/exit token generation endpoints.
type Handler struct {
	Store  *backendstore.Store
	Codec  *tokencodec.Codec
	Logger *zap.Logger
}

// New builds a Handler.
func New(store *backendstore.Store, codec *tokencodec.Codec, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Codec: codec, Logger: logger}
}

// Register binds the issuance routes to the given group (expected to already
// carry the kiosk/staff auth middleware — §4.9).
func (h *Handler) Register(g *echo.Group) {
	g.POST("/entries/generate", h.HandleGenerateEntry)
	g.POST("/entries/generate/exit", h.HandleGenerateExit)
}

type generateRequest struct {
	Roll   string            `json:"roll"`
	Laptop *string           `json:"laptop"`
	Extra  []model.ExtraItem `json:"extra"`
}

// HandleGenerateEntry implements §4.9's first endpoint.
func (h *Handler) HandleGenerateEntry(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil || req.Roll == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "roll is required"})
	}

	entryID := uuid.New()
	ctx := c.Request().Context()

	err := h.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := backendstore.EnsureUser(ctx, tx, req.Roll); err != nil {
			return err
		}
		return backendstore.CreatePendingEntry(ctx, tx, entryID, req.Roll, req.Laptop, req.Extra)
	})
	if err != nil {
		h.Logger.Error("issuance: create pending entry failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	token, err := h.Codec.SignEntry(entryID, req.Roll, req.Laptop, convertExtra(req.Extra))
	if err != nil {
		h.Logger.Error("issuance: sign entry token failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"entryId": entryID,
		"token":   token,
		"message": "entry token issued",
	})
}

// HandleGenerateExit implements §4.9's emergency-exit-token endpoint.
func (h *Handler) HandleGenerateExit(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil || req.Roll == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "roll is required"})
	}

	ctx := c.Request().Context()
	entryID, err := backendstore.MostRecentEnteredByRoll(ctx, h.Store.Pool, req.Roll)
	if err != nil {
		if errors.Is(err, backendstore.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no active entry for roll"})
		}
		h.Logger.Error("issuance: look up entry for emergency exit failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	token, err := h.Codec.SignEmergencyExit(entryID, req.Roll, req.Laptop, convertExtra(req.Extra))
	if err != nil {
		h.Logger.Error("issuance: sign emergency exit token failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"entryId":          entryID,
		"token":            token,
		"expiresInSeconds": int(tokencodec.EmergencyExitTokenTTL.Seconds()),
		"message":          "emergency exit token issued",
	})
}

func convertExtra(items []model.ExtraItem) []tokencodec.ExtraItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]tokencodec.ExtraItem, len(items))
	for i, it := range items {
		out[i] = tokencodec.ExtraItem{Key: it.Key, Value: it.Value}
	}
	return out
}
