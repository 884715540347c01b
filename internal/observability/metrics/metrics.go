package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// RewrapsTotal counts per-message escrow rewraps by operation and result.
	RewrapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_rewrap_total",
			Help: "Total number of per-message escrow rewrap attempts.",
		},
		[]string{"operation", "result"},
	)

	// EscrowKeyMissingTotal is the alerting signal for configuration drift:
	// a message references an escrow key id that is no longer configured.
	EscrowKeyMissingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_key_missing_total",
			Help: "Messages whose escrow key id could not be resolved.",
		},
		[]string{"key_id"},
	)

	RotationOlderMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_rotation_older_messages_total",
			Help: "Rotation runs that left out-of-window messages for lazy repair.",
		},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Total number of bearer token checks.",
		},
		[]string{"method", "result"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Total number of repair operation invocations.",
		},
		[]string{"operation", "result"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		RewrapsTotal,
		EscrowKeyMissingTotal,
		RotationOlderMessagesTotal,
		OperationsTotal,
		AuthenticationAttemptsTotal,
	)
}
