package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CredentialIssuance counts per-signatory issuance outcomes (issued|failed).
	CredentialIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_credential_issuance_total",
			Help: "Total number of signatory credential issuances by outcome",
		},
		[]string{"outcome"},
	)

	// SigningAttempts records signing attempts by result
	// (approved|rejected|invalid_token|invalid_otp|consumed|not_found|error).
	SigningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_signing_attempts_total",
			Help: "Total number of signing attempts by result",
		},
		[]string{"result"},
	)

	// NotificationDeliveries counts outbound OTP deliveries by channel and result (sent|failed).
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_notification_deliveries_total",
			Help: "Total number of OTP notification deliveries",
		},
		[]string{"channel", "result"},
	)

	// StatusTransitions counts resolution status changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_resolution_status_transitions_total",
			Help: "Total number of resolution status transitions",
		},
		[]string{"from", "to"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
