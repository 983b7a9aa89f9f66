package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeak_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	RegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codeak_registrations_total",
			Help: "Total number of accounts created through registration",
		},
	)

	RankRecomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeak_rank_recomputes_total",
			Help: "Ranking recomputes by partition",
		},
		[]string{"partition"},
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeak_reports_total",
			Help: "Support reports by outcome",
		},
		[]string{"outcome"},
	)
)
