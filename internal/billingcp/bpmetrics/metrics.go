package bpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// DuplicateEventsTotal counts webhook deliveries short-circuited by the
	// idempotency ledger.
	DuplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "duplicate_events_total",
		Help:      "Webhook deliveries skipped because the event id was already processed.",
	})

	// StaleEventsTotal counts writes skipped by the event-recency guard.
	StaleEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "stale_events_total",
		Help:      "Entitlement writes skipped because a newer event was already applied.",
	})

	// UnmappedPricesTotal counts tier resolutions that fell open to the
	// lowest paid tier because the price id was not in the table.
	UnmappedPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "unmapped_prices_total",
		Help:      "Tier resolutions that granted the lowest paid tier for an unknown price id.",
	})

	// EntitlementsByTier tracks the number of store entitlement records per tier.
	EntitlementsByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vitrine",
		Subsystem: "billing",
		Name:      "entitlements_by_tier",
		Help:      "Number of store entitlement records by tier.",
	}, []string{"tier"})
)
