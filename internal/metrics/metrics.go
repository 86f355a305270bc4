package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagaOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_saga_orders_total",
			Help: "Order saga outcomes",
		},
		[]string{"result"}, // success | failed | conflict
	)

	LedgerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_ledger_rejections_total",
			Help: "Conditional-update rejections per ledger",
		},
		[]string{"ledger", "reason"},
	)

	SweeperRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_sweeper_repairs_total",
			Help: "Rows repaired by the recovery sweeper",
		},
		[]string{"pass", "result"},
	)

	ClaimEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_coupon_claims_total",
			Help: "Coupon claim pipeline throughput",
		},
		[]string{"stage", "result"}, // stage: reserve | publish | consume
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commerce_coupon_outbox_unpublished",
			Help: "Outbox rows waiting to be published",
		},
	)
)
