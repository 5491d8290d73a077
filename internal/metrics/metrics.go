package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts terminal delivery outcomes by status
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Terminal webhook delivery outcomes by status.",
	}, []string{"status"})

	// AttemptsTotal counts individual HTTP delivery attempts
	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_delivery_attempts_total",
		Help: "Individual webhook delivery attempts.",
	})

	// RetriesScheduledTotal counts retries handed to the scheduler
	RetriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_retries_scheduled_total",
		Help: "Webhook delivery retries scheduled.",
	})

	// QueueSaturationTotal counts tasks that found the dispatch queue full
	QueueSaturationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_queue_saturation_total",
		Help: "Dispatch tasks delayed because the worker queue was full.",
	})

	// QueueDepth tracks the current dispatch queue depth
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_queue_depth",
		Help: "Current depth of the dispatch worker queue.",
	})

	// WebhooksSuspendedTotal counts automatic suspensions
	WebhooksSuspendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_suspended_total",
		Help: "Webhooks suspended after sustained delivery failure.",
	})
)
