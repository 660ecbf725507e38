package http

import (
	"errors"
	"net/http"

	"github.com/hexrift/zentla-sub005/internal/http/middleware"
	"github.com/hexrift/zentla-sub005/internal/service/deadletter"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func listDeadLettersHandler(svc *deadletter.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit, offset := pageParams(c)
		rows, err := svc.List(c.Request().Context(), wsID, limit, offset)
		if err != nil {
			log.Errorf("list dead letters failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

// retryDeadLetterHandler replays a dead-lettered delivery. The outcome is a
// typed result; callers branch on the success flag.
func retryDeadLetterHandler(svc *deadletter.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		res, err := svc.Retry(c.Request().Context(), wsID, c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, deadletter.ErrNotFound):
				return c.JSON(http.StatusNotFound, res)
			case errors.Is(err, deadletter.ErrEndpointInactive):
				return c.JSON(http.StatusConflict, res)
			default:
				log.Errorf("dead letter retry failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
		}

		return c.JSON(http.StatusOK, res)
	}
}
