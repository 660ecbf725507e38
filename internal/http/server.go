package http

import (
	"context"
	"net/http"
	"time"

	"github.com/hexrift/zentla-sub005/internal/config"
	"github.com/hexrift/zentla-sub005/internal/http/middleware"
	"github.com/hexrift/zentla-sub005/internal/ingest"
	"github.com/hexrift/zentla-sub005/internal/metrics"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/hexrift/zentla-sub005/internal/service/deadletter"
	"github.com/hexrift/zentla-sub005/internal/service/endpoints"
	"github.com/hexrift/zentla-sub005/internal/service/events"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, logger *zap.Logger) *Server {
	// repos (MySQL)
	workspacesRepo := repository.NewWorkspacesRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	endpointsRepo := repository.NewEndpointsRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)
	deadLettersRepo := repository.NewDeadLettersRepository(mysqlDB)
	providerEventsRepo := repository.NewProviderEventsRepository(mysqlDB)

	// repos (ClickHouse)
	chAttemptsRepo := repository.NewCHAttemptsRepository(clickhouseDB)

	// services
	eventsSvc := events.New(outboxRepo)
	endpointsSvc := endpoints.New(endpointsRepo)
	deadLetterSvc := deadletter.New(mysqlDB, deadLettersRepo, deliveriesRepo, endpointsRepo)
	ingestSvc := ingest.New(
		providerEventsRepo,
		providerEventHandler(cfg.Providers, eventsSvc, workspacesRepo),
		logger,
	)

	verifiers := buildVerifiers(cfg.Providers, logger)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// inbound provider webhooks: no API key, signature is the auth
	e.POST("/webhooks/providers/:provider", providerWebhookHandler(verifiers, ingestSvc))

	// middlewares
	authMW := middleware.APIKeyMiddleware(workspacesRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ws:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/endpoints", createEndpointHandler(endpointsSvc))
	v1.GET("/endpoints", listEndpointsHandler(endpointsSvc))
	v1.GET("/endpoints/:id", getEndpointHandler(endpointsSvc))
	v1.PATCH("/endpoints/:id", updateEndpointHandler(endpointsSvc))
	v1.POST("/endpoints/:id/rotate-secret", rotateSecretHandler(endpointsSvc))
	v1.DELETE("/endpoints/:id", deleteEndpointHandler(endpointsSvc))
	v1.GET("/dead-letters", listDeadLettersHandler(deadLetterSvc))
	v1.POST("/dead-letters/:id/retry", retryDeadLetterHandler(deadLetterSvc))
	v1.GET("/reports/attempts", listAttemptsHandler(chAttemptsRepo))

	return &Server{e: e}
}

// buildVerifiers maps enabled provider names to their signature verifiers.
func buildVerifiers(provs []config.ProviderConfig, logger *zap.Logger) map[string]ingest.Verifier {
	out := make(map[string]ingest.Verifier, len(provs))
	for _, pc := range provs {
		if !pc.Enabled || pc.Secret == "" {
			continue
		}
		v, err := ingest.NewVerifier(pc.Scheme, pc.Secret, pc.Tolerance)
		if err != nil {
			logger.Warn("provider skipped", zap.String("provider", pc.Name), zap.Error(err))
			continue
		}
		out[pc.Name] = v
	}
	return out
}

// providerEventHandler emits a domain event into the provider's configured
// workspace; fan-out takes it from there. Events bound to a missing or
// suspended workspace are acknowledged without an emit.
func providerEventHandler(provs []config.ProviderConfig, eventsSvc *events.Service, workspaces repository.WorkspacesRepository) ingest.Handler {
	workspaceOf := make(map[string]int64, len(provs))
	for _, pc := range provs {
		workspaceOf[pc.Name] = pc.WorkspaceID
	}
	return func(ctx context.Context, provider string, evt model.ProviderEvent) error {
		wsID := workspaceOf[provider]
		if wsID <= 0 {
			return nil // provider not bound to a workspace: verified and deduped only
		}
		ws, err := workspaces.GetByID(ctx, wsID)
		if err != nil {
			return err
		}
		if ws == nil || ws.Status != "active" {
			return nil
		}
		_, err = eventsSvc.Emit(ctx, nil, wsID, evt.Type, "provider_event", evt.ID, evt.Data)
		return err
	}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
