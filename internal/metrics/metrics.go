// Package metrics exposes Prometheus counters for the webhook and check-in flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookDeliveries counts webhook deliveries by result
	// (ok, empty, missing_signature, bad_signature, invalid_body, too_large).
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazasu",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries by result.",
	}, []string{"result"})

	// ChatEvents counts processed chat events by command and outcome.
	ChatEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazasu",
		Name:      "chat_events_total",
		Help:      "Chat events by command and outcome.",
	}, []string{"command", "outcome"})

	// Checkins counts check-in workflow outcomes.
	Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazasu",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome.",
	}, []string{"outcome"})

	// Pushes counts post-check-in notifications by channel and result.
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazasu",
		Name:      "pushes_total",
		Help:      "Push notifications by channel and result.",
	}, []string{"channel", "result"})
)
