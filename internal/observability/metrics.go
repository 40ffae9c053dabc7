// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ChargesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "settlement_charges_total",
	Help: "Successful metering charges applied to the ledger.",
})

var ChargesDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_charges_denied_total",
	Help: "Metering charges refused by the ledger.",
}, []string{"reason"})

var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_cycles_total",
	Help: "Settlement cycles by outcome.",
}, []string{"outcome"})

var ClaimsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "settlement_claims_settled_total",
	Help: "Claim chunks driven through the full saga.",
})

var ClaimsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_claims_failed_total",
	Help: "Claim chunks that exhausted the saga retry budget, by step.",
}, []string{"step"})

var CreditsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "settlement_credits_settled_total",
	Help: "Total credits moved from held to settled.",
})

var BalancesClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "settlement_balances_clamped_total",
	Help: "Balance overrides that hit the corruption guard.",
})
