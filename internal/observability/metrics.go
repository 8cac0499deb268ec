package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total ride requests created"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_accepted_total", Help: "Total ride requests accepted by a driver"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Total rides completed"})
	RidesCancelled  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_cancelled_total", Help: "Total rides cancelled"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts rejected because the ride was already taken"})

	LedgerTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ledger_transactions_total", Help: "Ledger transactions appended"},
		[]string{"type"},
	)
	FeeCollectionFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "fee_collection_failures_total", Help: "Platform fee debits that failed at ride completion"})

	NotificationsSent    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_sent_total", Help: "Notifications delivered to a live connection"}, []string{"type"})
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_dropped_total", Help: "Notifications dropped because no live connection existed"}, []string{"type"})
	ConnectedUsers       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "connected_users", Help: "Currently connected websocket users"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
