// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks capability call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration by purpose",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "purpose", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "purpose"},
	)

	// InboundMessagesTotal tracks inbound deliveries by outcome.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound messages received, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// ClassificationsTotal tracks classification verdicts.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Classification verdicts by category, severity and source",
		},
		[]string{"category", "severity", "source"},
	)

	// EscalationAttemptsTotal tracks escalation deliveries.
	EscalationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_attempts_total",
			Help: "Escalation delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// AutoRepliesTotal tracks reply generation: generated or fallback.
	AutoRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_replies_total",
			Help: "Automated replies by generation outcome",
		},
		[]string{"outcome"},
	)

	// AutoReplyDeliveriesTotal tracks what happened to each inbound message
	// offered to the assistant: delivered, undelivered or skipped.
	AutoReplyDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_reply_deliveries_total",
			Help: "Automated reply deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// AssignmentsTotal tracks responder handoffs.
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_assignments_total",
			Help: "Thread handoffs by target responder type",
		},
		[]string{"target"},
	)

	// OutboundDeliveriesTotal tracks outbound transport sends.
	OutboundDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_deliveries_total",
			Help: "Outbound transport deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ThreadsCreatedTotal tracks threads opened by the resolver.
	ThreadsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threads_created_total",
			Help: "Threads created, by channel",
		},
		[]string{"channel"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for a capability call.
func RecordLLMCall(model, purpose, status string, duration float64, tokens int) {
	LLMRequestDuration.WithLabelValues(model, purpose, status).Observe(duration)
	if tokens > 0 {
		LLMTokensTotal.WithLabelValues(model, purpose).Add(float64(tokens))
	}
}

// RecordClassification records a classification verdict.
func RecordClassification(category, severity string, fallback bool) {
	source := "model"
	if fallback {
		source = "fallback"
	}
	ClassificationsTotal.WithLabelValues(category, severity, source).Inc()
}

// RecordEscalationAttempt records one escalation delivery outcome.
func RecordEscalationAttempt(channel string, success bool) {
	EscalationAttemptsTotal.WithLabelValues(channel, outcome(success)).Inc()
}

// RecordOutboundDelivery records one outbound transport send.
func RecordOutboundDelivery(provider string, success bool) {
	OutboundDeliveriesTotal.WithLabelValues(provider, outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
