// Package metrics exposes the Prometheus collectors scraped at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseConnectionsGauge tracks the connection pool's open/idle/in_use
	// counts, sampled periodically from sql.DB.Stats().
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stellar_insights_database_connections",
		Help: "Database connection pool state by status (open, idle, in_use).",
	}, []string{"status"})

	// ListenerLastLedger reports the Listener's current cursor watermark.
	ListenerLastLedger = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stellar_insights_listener_last_ledger",
		Help: "Highest ledger sequence the listener has durably advanced past.",
	})

	// ListenerPollsTotal counts poll ticks by outcome (ok, rpc_error).
	ListenerPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_insights_listener_polls_total",
		Help: "Total listener poll cycles by outcome.",
	}, []string{"outcome"})

	// EventsIngestedTotal counts events persisted by the event store.
	EventsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stellar_insights_events_ingested_total",
		Help: "Total contract events upserted into the event store.",
	})

	// VerificationsTotal counts verification verdicts by outcome.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_insights_verifications_total",
		Help: "Total verification verdicts by status (verified, failed, missing).",
	}, []string{"status"})

	// AlertsEmittedTotal counts alerts emitted by kind.
	AlertsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_insights_alerts_emitted_total",
		Help: "Total alerts emitted by kind.",
	}, []string{"kind"})
)
