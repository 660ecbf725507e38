package http

import (
	"net/http"
	"strings"

	"github.com/hexrift/zentla-sub005/internal/http/middleware"
	"github.com/hexrift/zentla-sub005/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listAttemptsHandler serves the delivery attempt audit trail from ClickHouse.
func listAttemptsHandler(chRepo repository.CHAttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit, offset := pageParams(c)
		endpointID := strings.TrimSpace(c.QueryParam("endpoint_id"))
		result := strings.TrimSpace(c.QueryParam("result"))

		rows, err := chRepo.ListByWorkspace(
			c.Request().Context(),
			wsID,
			endpointID,
			result,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
