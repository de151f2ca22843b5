// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for the agent, relabeled from the teacher's pipeline/agent/LLM
// domain to USP dispatch, MTP transport, and subscription delivery.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// DISPATCH METRICS
// =============================================================================

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uspagent_requests_total",
			Help: "Total number of USP requests handled by the Message Dispatcher",
		},
		[]string{"msg_type", "status"}, // status: success, error
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uspagent_request_duration_seconds",
			Help:    "Message Dispatcher handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"msg_type"},
	)
)

// =============================================================================
// MTP METRICS
// =============================================================================

var (
	mtpConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uspagent_mtp_connect_attempts_total",
			Help: "Total MTP (re)connect attempts",
		},
		[]string{"protocol", "status"}, // status: success, error
	)

	mtpStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uspagent_mtp_status",
			Help: "Current MTP instance status (0=down, 1=connecting, 2=up, 3=error)",
		},
		[]string{"instance"},
	)
)

// =============================================================================
// SUBSCRIPTION / NOTIFY METRICS
// =============================================================================

var (
	notifiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uspagent_notifies_total",
			Help: "Total Notify messages sent, by kind and delivery outcome",
		},
		[]string{"kind", "status"}, // status: sent, retried, expired
	)

	pendingNotifies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uspagent_pending_notifies",
			Help: "Unacknowledged notifications currently awaiting delivery, by controller",
		},
		[]string{"controller"},
	)
)

// =============================================================================
// ADMIN (LOCAL GRPC) METRICS
// =============================================================================

var (
	adminRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uspagent_admin_requests_total",
			Help: "Total requests served by the local admin/introspection surface",
		},
		[]string{"method", "status"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRequest records one Message Dispatcher request outcome.
func RecordRequest(msgType, status string, durationSeconds float64) {
	requestsTotal.WithLabelValues(msgType, status).Inc()
	requestDurationSeconds.WithLabelValues(msgType).Observe(durationSeconds)
}

// RecordMTPConnectAttempt records one MTP (re)connect attempt outcome.
func RecordMTPConnectAttempt(protocol, status string) {
	mtpConnectAttemptsTotal.WithLabelValues(protocol, status).Inc()
}

// SetMTPStatus reports an MTP instance's current Status (mtp.Status
// ordinal) for the given instance id.
func SetMTPStatus(instance string, status int) {
	mtpStatus.WithLabelValues(instance).Set(float64(status))
}

// RecordNotify records one Notify delivery outcome.
func RecordNotify(kind, status string) {
	notifiesTotal.WithLabelValues(kind, status).Inc()
}

// SetPendingNotifies reports the current unacknowledged-notify count for
// a controller.
func SetPendingNotifies(controller string, count int) {
	pendingNotifies.WithLabelValues(controller).Set(float64(count))
}

// RecordAdminRequest records one admin-surface RPC outcome.
func RecordAdminRequest(method, status string) {
	adminRequestsTotal.WithLabelValues(method, status).Inc()
}
