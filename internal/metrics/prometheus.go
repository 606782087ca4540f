package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vserve_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vserve_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Document store
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vserve_store_operations_total",
			Help: "Document store operations by collection and outcome",
		},
		[]string{"op", "collection", "outcome"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vserve_store_latency_seconds",
			Help:    "Document store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)

	// Business metrics
	ApprovalEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vserve_approval_emails_total",
			Help: "Approval emails by outcome",
		},
		[]string{"outcome"}, // "sent" or "failed"
	)

	AssistantReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vserve_assistant_replies_total",
			Help: "Assistant replies by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vserve_active_subscriptions",
			Help: "Open document store subscriptions",
		},
	)
)

func outcome(err error, ok string) string {
	if err != nil {
		return "failed"
	}
	return ok
}
