package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchaseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_attempts_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	inventoryRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_rejections_total",
			Help: "Reservations rejected per reason",
		},
		[]string{"reason"},
	)

	gatewayRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Rate-limited gateway calls that were retried",
		},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of charge reconciliation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"result"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets minted per event",
		},
		[]string{"event_id"},
	)
)

// TrackPurchase records one purchase attempt outcome.
func TrackPurchase(outcome string) {
	purchaseAttempts.WithLabelValues(outcome).Inc()
}

// TrackInventoryRejection records a rejected reservation.
func TrackInventoryRejection(reason string) {
	inventoryRejections.WithLabelValues(reason).Inc()
}

// TrackGatewayRetry records one rate-limited retry.
func TrackGatewayRetry() {
	gatewayRetries.Inc()
}

// TrackReconcile records the duration of one reconciliation.
func TrackReconcile(duration time.Duration, result string) {
	reconcileDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// TrackTicketsIssued records minted tickets for an event.
func TrackTicketsIssued(eventID string, count int) {
	ticketsIssued.WithLabelValues(eventID).Add(float64(count))
}
