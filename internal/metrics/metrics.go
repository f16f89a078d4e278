// Package metrics exposes Prometheus counters for the sign-in gate, the
// security event log and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safecrypt"

var (
	// HTTPRequestTotal counts requests by method, route pattern and status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds is request latency by route.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "route"},
	)

	// SignInOutcomesTotal counts credential gate outcomes (accepted or rejection kind).
	SignInOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_outcomes_total",
			Help:      "Credential gate outcomes by result.",
		},
		[]string{"outcome"},
	)

	// AuditEventsWrittenTotal counts security events persisted to the store.
	AuditEventsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_written_total",
			Help:      "Security events persisted by action.",
		},
		[]string{"action"},
	)

	// AuditEventsDroppedTotal counts security events the writer gave up on.
	AuditEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Security events dropped by reason (invalid, store_error).",
		},
		[]string{"reason"},
	)

	// VerificationChecksTotal counts step-up code checks by result.
	VerificationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_checks_total",
			Help:      "Verification code checks by result.",
		},
		[]string{"result"},
	)

	// VerificationDeliveriesTotal counts code deliveries by status.
	VerificationDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_deliveries_total",
			Help:      "Verification code deliveries by status (sent, failed).",
		},
		[]string{"status"},
	)
)

// Recorder adapts the package counters to the observer hooks the services accept
type Recorder struct{}

func (Recorder) AuditWritten(action string) {
	AuditEventsWrittenTotal.WithLabelValues(action).Inc()
}

func (Recorder) AuditDropped(reason string) {
	AuditEventsDroppedTotal.WithLabelValues(reason).Inc()
}

func (Recorder) SignInOutcome(outcome string) {
	SignInOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (Recorder) CodeChecked(result string) {
	VerificationChecksTotal.WithLabelValues(result).Inc()
}

func (Recorder) CodeDelivered(ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	VerificationDeliveriesTotal.WithLabelValues(status).Inc()
}
