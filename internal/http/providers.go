package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hexrift/zentla-sub005/internal/ingest"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// 1MB is plenty for provider webhook payloads.
const maxInboundBody = 1 << 20

// providerWebhookHandler verifies the provider signature over the raw body,
// parses the event, and hands it to the ingestor. Signature or payload
// problems are 400 (never retried by us); processing failures are 500 so the
// provider's own retry mechanism re-delivers.
func providerWebhookHandler(verifiers map[string]ingest.Verifier, svc *ingest.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		verifier, ok := verifiers[provider]
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		}

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInboundBody))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		}

		sig := c.Request().Header.Get(verifier.Header())
		if err := verifier.Verify(sig, body, time.Now().UTC()); err != nil {
			log.Warnf("inbound %s signature rejected: %v", provider, err)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		}

		var evt model.ProviderEvent
		if err := json.Unmarshal(body, &evt); err != nil || strings.TrimSpace(evt.ID) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		res, err := svc.Process(c.Request().Context(), provider, evt)
		if err != nil {
			log.Errorf("inbound %s event %s failed: %v", provider, evt.ID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"received": res.Received,
			"eventId":  res.EventID,
		})
	}
}
