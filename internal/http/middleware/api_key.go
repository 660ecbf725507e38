package middleware

import (
	"net/http"
	"strings"

	"github.com/hexrift/zentla-sub005/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// WorkspaceIDFromCtx extracts the authenticated workspace_id set by APIKeyMiddleware.
func WorkspaceIDFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("workspace_id")
	id, ok := v.(int64)
	return id, ok
}

// APIKeyMiddleware authenticates requests using the X-API-Key header.
// On success it stores workspace_id in context and blocks suspended workspaces.
func APIKeyMiddleware(workspaces repository.WorkspacesRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			ws, err := workspaces.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if ws == nil || ws.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("workspace_id", ws.ID)
			if ws.RateLimitRPS != nil {
				c.Set("workspace_rps", *ws.RateLimitRPS)
			}
			return next(c)
		}
	}
}
