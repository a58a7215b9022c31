package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_quotes_served_total",
		Help: "Total number of tariff quote requests answered.",
	})

	CarrierQuoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_carrier_quote_errors_total",
		Help: "Quote failures per carrier; failed carriers are skipped, not fatal.",
	},
		[]string{"carrier"},
	)

	ShipmentsBookedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_shipments_booked_total",
		Help: "Total number of shipments successfully created with a carrier.",
	})

	BookingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_booking_failures_total",
		Help: "Booking pipeline failures by stage.",
	},
		[]string{"stage"},
	)

	PaymentsSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_payments_succeeded_total",
		Help: "Total number of payments reconciled to success.",
	})

	WebhooksIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_webhooks_ignored_total",
		Help: "Webhook deliveries acknowledged without effect (unknown or replayed).",
	})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_status_transitions_total",
		Help: "Order status transitions applied by the synchronizer.",
	},
		[]string{"to"},
	)

	NotificationsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_notifications_enqueued_total",
		Help: "Notification tasks written to the outbox.",
	})
)
