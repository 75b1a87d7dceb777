package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexEntries tracks the number of indexed contracts by kind
	IndexEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_index_entries",
			Help: "Number of contract handles in the registry index",
		},
		[]string{"kind"},
	)

	// DuplicateIDs counts inserts rejected because the id was already indexed
	DuplicateIDs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_duplicate_ids_total",
			Help: "Total number of rejected duplicate index inserts",
		},
		[]string{"kind"},
	)

	// EventsObserved counts decoded contract events
	EventsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_events_observed_total",
			Help: "Total number of contract events observed",
		},
		[]string{"kind", "event"},
	)

	// LastObservedBlock tracks the block of the latest event per kind
	LastObservedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_last_observed_block",
			Help: "Block number of the last observed event by contract kind",
		},
		[]string{"kind"},
	)

	// ErrorsTotal counts errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// TransactionsSent counts transactions submitted to the ledger
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_transactions_sent_total",
			Help: "Total number of transactions submitted",
		},
		[]string{"method", "status"},
	)

	// DispatchDuration tracks dispatcher operation latency
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_dispatch_duration_seconds",
			Help:    "Dispatcher operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DeployGasEstimate tracks the estimated gas of registry deployments
	DeployGasEstimate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_deploy_gas_estimate",
			Help:    "Estimated gas for registry contract creation",
			Buckets: []float64{500000, 1000000, 2000000, 4000000, 8000000},
		},
	)

	// NotificationsTotal counts party notifications by outcome
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_notifications_total",
			Help: "Total number of party notifications",
		},
		[]string{"status"},
	)

	// RPCRequests counts facade requests by method and outcome
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "status"},
	)
)
