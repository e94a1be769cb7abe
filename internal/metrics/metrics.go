// Package metrics exposes prometheus instrumentation for the protocol
// layer. Collectors are registered through promauto at init time; binaries
// decide whether to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolConnectionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_pool_connections_created_total",
			Help: "Connections dialed by the pool",
		},
		[]string{"endpoint"},
	)

	PoolConnectionsReused = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_pool_connections_reused_total",
			Help: "Idle connections handed back out by the pool",
		},
		[]string{"endpoint"},
	)

	PoolConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_pool_connections_closed_total",
			Help: "Connections closed by eviction, release overflow or shutdown",
		},
		[]string{"endpoint"},
	)

	PoolConnectionsLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailwire_pool_connections_live",
			Help: "Live connections (idle plus checked out) per endpoint",
		},
		[]string{"endpoint"},
	)

	SyncMessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_sync_messages_fetched_total",
			Help: "Messages fetched and parsed during IMAP sync",
		},
		[]string{"folder"},
	)

	SyncMessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_sync_messages_skipped_total",
			Help: "Messages skipped during IMAP sync because fetch or parse failed",
		},
		[]string{"folder"},
	)

	DeliveryResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwire_delivery_results_total",
			Help: "SMTP delivery results by terminal status",
		},
		[]string{"status"},
	)

	DeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailwire_delivery_retries_total",
			Help: "SMTP send attempts that were repeated after a retryable failure",
		},
	)
)
