package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FanOutEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentla_fanout_events_total",
			Help: "Outbox events handled by the fan-out engine, by result",
		},
		[]string{"result"}, // processed|no_endpoints|error
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentla_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"result"}, // delivered|retried|dead_lettered
	)

	InboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zentla_inbound_events_total",
			Help: "Inbound provider webhook events by provider and result",
		},
		[]string{"provider", "result"}, // processed|duplicate|invalid|error
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zentla_dead_letters_total",
			Help: "Deliveries moved to the dead-letter store",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		FanOutEventsTotal,
		DeliveriesTotal,
		InboundEventsTotal,
		DeadLettersTotal,
	)
}
