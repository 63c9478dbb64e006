// Package httpmw holds the echo middlewares shared by the backend's HTTP
// surfaces: the gate API key guard on the ingestion endpoint (C6) and the
// kiosk/staff auth boundary in front of the issuance and dashboard
// endpoints (§9 of the expanded specification).
package httpmw

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireGateAPIKey returns echo middleware enforcing a constant-time
// comparison of the X-GATE-API-KEY header against expectedKey. An unset
// expectedKey is a server misconfiguration (500); a missing header is 401;
// a mismatch is 403 — matching the C6 authentication rule in §4.6.
func RequireGateAPIKey(expectedKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expectedKey == "" {
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"detail": "Server misconfigured: GATE_API_KEY is not set",
				})
			}
			provided := c.Request().Header.Get("X-GATE-API-KEY")
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Unauthorized"})
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expectedKey)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]string{"detail": "Forbidden"})
			}
			return next(c)
		}
	}
}
