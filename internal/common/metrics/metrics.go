// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_gate_decisions_total",
			Help: "Total number of gate decisions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	UsageIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_usage_increments_total",
			Help: "Total number of usage increments by limit type and result",
		},
		[]string{"limit_type", "result"},
	)

	CounterBackendFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_counter_backend_fallbacks_total",
			Help: "Number of counter operations served by the local fallback backend",
		},
	)

	GasOracleFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_gas_oracle_fetches_total",
			Help: "Total number of gas oracle fetches by result",
		},
		[]string{"result"},
	)

	GasPriceGwei = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitlement_gas_price_gwei",
			Help: "Last gas price served by the price cache",
		},
	)

	AIChargeBEZ = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entitlement_ai_charge_bez",
			Help:    "Finalized AI charges in BEZ",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"model", "tier"},
	)

	BillingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_billing_events_total",
			Help: "Total number of billing webhook events by type and result",
		},
		[]string{"type", "result"},
	)
)
