package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	revocationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accessgate_revocations_active",
		Help: "Entries held by the in-memory revocation registry.",
	})

	tokenDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accessgate_token_decode_failures_total",
		Help: "Rejected tokens by reason.",
	}, []string{"kind", "reason"})

	authzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accessgate_authz_decisions_total",
		Help: "Authorization guard decisions.",
	}, []string{"element", "action", "outcome"})
)
