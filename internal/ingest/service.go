package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hexrift/zentla-sub005/internal/metrics"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"go.uber.org/zap"
)

// Handler applies the business effect of a verified, deduplicated provider
// event. It runs at most once per (provider, event id).
type Handler func(ctx context.Context, provider string, evt model.ProviderEvent) error

// Result reports how an inbound event was concluded.
type Result struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"-"`
}

// Service deduplicates inbound provider events against the processed ledger
// and invokes the handler exactly once per event id.
type Service struct {
	ledger  repository.ProviderEventsRepository
	handler Handler
	log     *zap.Logger
}

func New(ledger repository.ProviderEventsRepository, handler Handler, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ledger: ledger, handler: handler, log: log}
}

// Process claims the event id first (the unique key is the serialization
// point), runs the handler, and releases the claim on handler failure so the
// provider's redelivery can retry. A duplicate short-circuits idempotently.
func (s *Service) Process(ctx context.Context, provider string, evt model.ProviderEvent) (Result, error) {
	if strings.TrimSpace(evt.ID) == "" {
		metrics.InboundEventsTotal.WithLabelValues(provider, "invalid").Inc()
		return Result{}, fmt.Errorf("provider event id is required")
	}

	// Read-only fast path for redeliveries; the Claim below stays the
	// serialization point, so a racing first delivery is still safe.
	if seen, err := s.ledger.IsProcessed(ctx, provider, evt.ID); err == nil && seen {
		metrics.InboundEventsTotal.WithLabelValues(provider, "duplicate").Inc()
		s.log.Info("duplicate provider event",
			zap.String("provider", provider),
			zap.String("event_id", evt.ID),
		)
		return Result{Received: true, EventID: evt.ID, Duplicate: true}, nil
	}

	claimed, err := s.ledger.Claim(ctx, provider, evt.ID, evt.Type)
	if err != nil {
		metrics.InboundEventsTotal.WithLabelValues(provider, "error").Inc()
		return Result{}, fmt.Errorf("claim provider event: %w", err)
	}
	if !claimed {
		metrics.InboundEventsTotal.WithLabelValues(provider, "duplicate").Inc()
		s.log.Info("duplicate provider event",
			zap.String("provider", provider),
			zap.String("event_id", evt.ID),
		)
		return Result{Received: true, EventID: evt.ID, Duplicate: true}, nil
	}

	if s.handler != nil {
		if err := s.handler(ctx, provider, evt); err != nil {
			// release so the provider's retry mechanism can re-deliver
			if rerr := s.ledger.Release(ctx, provider, evt.ID); rerr != nil {
				s.log.Error("release claim failed",
					zap.String("provider", provider),
					zap.String("event_id", evt.ID),
					zap.Error(rerr),
				)
			}
			metrics.InboundEventsTotal.WithLabelValues(provider, "error").Inc()
			return Result{}, fmt.Errorf("handle provider event: %w", err)
		}
	}

	metrics.InboundEventsTotal.WithLabelValues(provider, "processed").Inc()

	return Result{Received: true, EventID: evt.ID}, nil
}
