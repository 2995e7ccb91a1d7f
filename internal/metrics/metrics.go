package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authorizations counts authorization decisions per endpoint
	Authorizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_authorizations_total",
		Help: "Total number of authorization decisions",
	}, []string{"endpoint", "outcome"})

	// CreditsDeducted tracks credits consumed by paid endpoints
	CreditsDeducted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_credits_deducted_total",
		Help: "Total credits deducted by paid endpoints",
	}, []string{"endpoint"})

	// CreditsAdded tracks credits granted through admin top-ups
	CreditsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_credits_added_total",
		Help: "Total credits added by administrators",
	})

	// KeysMinted counts issued API keys
	KeysMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_keys_minted_total",
		Help: "Total number of API keys issued",
	})

	// AdminAuthFailures counts rejected admin credentials
	AdminAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_admin_auth_failures_total",
		Help: "Total number of rejected admin credentials",
	})

	// RequestDuration tracks HTTP handling time
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "Histogram of HTTP request handling duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Outcome labels for Authorizations
const (
	OutcomeAuthorized   = "authorized"
	OutcomeKeyNotFound  = "key_not_found"
	OutcomeInsufficient = "insufficient_credits"
	OutcomeInvalid      = "invalid"
)
