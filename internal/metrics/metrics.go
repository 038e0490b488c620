package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// channelAttempts counts channel send attempts.
	// Labels:
	// - product: "complaint", "declaration", ...
	// - channel: "email_to_landlord", "certified_mail", ...
	// - status:  "sent", "failed", "skipped"
	channelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "delivery",
			Name:      "channel_attempts_total",
			Help:      "Number of channel send attempts by outcome",
		},
		[]string{"product", "channel", "status"},
	)

	// providerCallDuration tracks provider round trips.
	// Labels:
	// - provider: "mail_api", "email", "sms", "renderer"
	// - status:   "success" or "failure"
	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of outbound provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)

	// reconcileProcessed counts letters picked up by the reconciliation job.
	// Labels:
	// - criterion: "stale", "failed_channel", "authority_gap"
	// - status:    "processed", "failed", "dry_run"
	reconcileProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "reconcile",
			Name:      "letters_total",
			Help:      "Letters handled by the reconciliation job",
		},
		[]string{"criterion", "status"},
	)
)

// IncChannelAttempt increments the channel attempt counter.
func IncChannelAttempt(product, channel, status string) {
	if product == "" {
		product = "unknown"
	}
	if channel == "" {
		channel = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	channelAttempts.WithLabelValues(product, channel, status).Inc()
}

// ObserveProviderCall observes one outbound provider round trip.
func ObserveProviderCall(provider, status string, seconds float64) {
	if provider == "" {
		provider = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	providerCallDuration.WithLabelValues(provider, status).Observe(seconds)
}

// IncReconcileLetter counts one letter handled by reconciliation.
func IncReconcileLetter(criterion, status string) {
	if criterion == "" {
		criterion = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	reconcileProcessed.WithLabelValues(criterion, status).Inc()
}
