package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_admissions_total",
			Help: "Admission decisions by outcome",
		},
		[]string{"outcome"},
	)

	CheckinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_checkins_total",
			Help: "Check-in scans by outcome",
		},
		[]string{"outcome"},
	)

	PromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatehouse_waitlist_promotions_total",
			Help: "Waitlisted admissions promoted to confirmed",
		},
	)

	SweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatehouse_swept_admissions_total",
			Help: "Pending-payment admissions lapsed by the expiry sweeper",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatehouse_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatehouse_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
