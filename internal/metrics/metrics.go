package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_events_consumed_total",
		Help: "Events handed to a consumer, labelled by topic, group and final result.",
	}, []string{"topic", "group", "result"})

	HandlerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_handler_retries_total",
		Help: "Handler invocations that failed transiently and were retried.",
	}, []string{"topic", "group"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_handler_duration_ms",
		Help:    "Time spent delivering one event to its handler, retries included.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	}, []string{"topic", "group"})

	LedgerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_ledger_outcomes_total",
		Help: "Idempotency guard results, labelled by consumer group and outcome.",
	}, []string{"group", "outcome"})

	LedgerPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_ledger_pruned_total",
		Help: "Rows removed by the retention sweeper.",
	}, []string{"table"})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_dispatched_total",
		Help: "Outbox rows published to the bus.",
	}, []string{"source"})

	OutboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed.",
	}, []string{"source"})

	UnreconciledPayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_unreconciled_payments_total",
		Help: "Payment events the order could not absorb and that need manual follow-up, labelled by event type.",
	}, []string{"event_type"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_notifications_total",
		Help: "Notifications handed to the sink, labelled by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_http_requests_total",
		Help: "HTTP requests served, labelled by method and status code.",
	}, []string{"method", "status"})

	HTTPDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "saga_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
)
