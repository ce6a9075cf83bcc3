package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeProcessed   = "processed"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "failed"
)

var (
	// HTTPRequestsTotal counts API requests by route pattern, method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_http_requests_total",
			Help: "Total number of HTTP requests handled by the API.",
		},
		[]string{"path", "method", "code"},
	)

	// ItemsProcessedTotal counts status changes routed through the item processor.
	ItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_items_processed_total",
			Help: "Total number of work items dispatched after a status change.",
		},
		[]string{"kind", "status", "outcome"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_events_published_total",
			Help: "Total number of domain events published.",
		},
		[]string{"type"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts.",
		},
		[]string{"result"},
	)
)
