package server

import (
	"strings"

	"github.com/labstack/echo/v4"

	"agenthub/internal/access"
	"agenthub/internal/core"
)

// clientIDKey is the echo context key carrying the authorized client id.
const clientIDKey = "client_id"

// AuthMiddleware creates an Echo middleware that resolves the Bearer token
// against the access controller. The controller enforces the kill switch and
// per-client quotas; this layer only parses the header and renders errors.
func AuthMiddleware(ctrl *access.Controller) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return writeError(c, core.NewAuthenticationError("gateway", 0, "missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return writeError(c, core.NewAuthenticationError("gateway", 0, "invalid authorization header format, expected 'Bearer <token>'"))
			}

			client, err := ctrl.Authorize(strings.TrimPrefix(authHeader, prefix))
			if err != nil {
				return writeError(c, err)
			}

			c.Set(clientIDKey, client.ID)
			return next(c)
		}
	}
}

// ClientID returns the authorized client id for the request, or "" when the
// server runs without authentication.
func ClientID(c echo.Context) string {
	if id, ok := c.Get(clientIDKey).(string); ok {
		return id
	}
	return ""
}
