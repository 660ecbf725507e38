package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hexrift/zentla-sub005/internal/http/middleware"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/service/endpoints"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type endpointResp struct {
	ID                 string          `json:"id"`
	URL                string          `json:"url"`
	Secret             string          `json:"secret,omitempty"` // only on create/rotate
	Events             []string        `json:"events"`
	Status             string          `json:"status"`
	Description        string          `json:"description,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	SuccessCount       int64           `json:"success_count"`
	FailureCount       int64           `json:"failure_count"`
	LastDeliveryAt     *time.Time      `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus *int            `json:"last_delivery_status,omitempty"`
	LastError          *string         `json:"last_error,omitempty"`
	LastErrorAt        *time.Time      `json:"last_error_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toEndpointResp(ep *model.WebhookEndpoint, withSecret bool) endpointResp {
	r := endpointResp{
		ID:                 ep.ID,
		URL:                ep.URL,
		Events:             ep.Events,
		Status:             ep.Status.String(),
		Description:        ep.Description,
		Metadata:           ep.Metadata,
		SuccessCount:       ep.SuccessCount,
		FailureCount:       ep.FailureCount,
		LastDeliveryAt:     ep.LastDeliveryAt,
		LastDeliveryStatus: ep.LastDeliveryStatus,
		LastError:          ep.LastError,
		LastErrorAt:        ep.LastErrorAt,
		CreatedAt:          ep.CreatedAt,
		UpdatedAt:          ep.UpdatedAt,
	}
	if withSecret {
		r.Secret = ep.Secret
	}
	return r
}

type createEndpointReq struct {
	URL         string          `json:"url"`
	Events      []string        `json:"events"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

func createEndpointHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createEndpointReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ep, err := svc.Create(c.Request().Context(), wsID, endpoints.CreateInput{
			URL:         req.URL,
			Events:      req.Events,
			Description: req.Description,
			Metadata:    req.Metadata,
		})
		if err != nil {
			if errors.Is(err, endpoints.ErrInvalidURL) || errors.Is(err, endpoints.ErrNoEvents) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("create endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		// the secret is visible exactly once, in this response
		return c.JSON(http.StatusCreated, toEndpointResp(ep, true))
	}
}

func listEndpointsHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit, offset := pageParams(c)
		eps, err := svc.List(c.Request().Context(), wsID, limit, offset)
		if err != nil {
			log.Errorf("list endpoints failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		out := make([]endpointResp, 0, len(eps))
		for i := range eps {
			out = append(out, toEndpointResp(&eps[i], false))
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(out),
			"results": out,
		})
	}
}

func getEndpointHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		ep, err := svc.Get(c.Request().Context(), wsID, c.Param("id"))
		if err != nil {
			if errors.Is(err, endpoints.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			log.Errorf("get endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, toEndpointResp(ep, false))
	}
}

type updateEndpointReq struct {
	URL         *string         `json:"url"`
	Events      []string        `json:"events"`
	Status      *string         `json:"status"`
	Description *string         `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

func updateEndpointHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req updateEndpointReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ep, err := svc.Update(c.Request().Context(), wsID, c.Param("id"), endpoints.UpdateInput{
			URL:         req.URL,
			Events:      req.Events,
			Status:      req.Status,
			Description: req.Description,
			Metadata:    req.Metadata,
		})
		if err != nil {
			switch {
			case errors.Is(err, endpoints.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			case errors.Is(err, endpoints.ErrInvalidURL), errors.Is(err, endpoints.ErrNoEvents):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			default:
				log.Errorf("update endpoint failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
		}
		return c.JSON(http.StatusOK, toEndpointResp(ep, false))
	}
}

func rotateSecretHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		secret, err := svc.RotateSecret(c.Request().Context(), wsID, c.Param("id"))
		if err != nil {
			if errors.Is(err, endpoints.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			log.Errorf("rotate secret failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]string{"secret": secret})
	}
}

func deleteEndpointHandler(svc *endpoints.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsID, ok := middleware.WorkspaceIDFromCtx(c)
		if !ok || wsID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		if err := svc.Delete(c.Request().Context(), wsID, c.Param("id")); err != nil {
			if errors.Is(err, endpoints.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			log.Errorf("delete endpoint failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func pageParams(c echo.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
