package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunks_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunks_claims_total",
			Help: "Bunk claims by outcome",
		},
		[]string{"outcome"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunks_confirmations_total",
			Help: "Payment confirmations by outcome",
		},
		[]string{"outcome"},
	)

	HoldsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunks_holds_reclaimed_total",
			Help: "Lapsed holds moved to EXPIRED, lazily or by the sweeper",
		},
	)

	SweptHolds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunks_holds_swept_total",
			Help: "Lapsed holds reclaimed by the background sweeper",
		},
	)

	DBTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunks_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunks_tx_retries_total",
			Help: "Operations re-run after a serialization failure",
		},
		[]string{"op"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunks_outbox_lag_seconds",
			Help: "Age of the oldest event published in the last batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunks_rabbit_publish_failures_total",
			Help: "Outbox events whose publish failed and will be retried",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunks_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
