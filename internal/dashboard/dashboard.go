// Package dashboard is the backend's staff-facing read surface. The
// expanded specification scopes dashboard aggregation itself out (§1 and
// §10), but the route is part of the original's authenticated
// surface and gate/kiosk clients probe it, so it is kept as an explicit
// boundary stub rather than left unrouted.
package dashboard

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the dashboard's summary endpoint.
type Handler struct{}

// New builds a Handler.
func New() *Handler {
	return &Handler{}
}

// Register binds the dashboard routes to the given group (expected to
// already carry httpmw.RequireStaffOrKiosk).
func (h *Handler) Register(g *echo.Group) {
	g.GET("/dashboard/summary", h.HandleSummary)
}

// HandleSummary reports that dashboard aggregation is out of scope for
// this service rather than returning a fabricated payload.
func (h *Handler) HandleSummary(c echo.Context) error {
	return c.JSON(http.StatusNotImplemented, map[string]string{
		"detail": "dashboard summary aggregation is not implemented by this service",
	})
}
