// Package metrics registers the engine's Prometheus collectors on the default
// registry. They are exposed by the API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var SettlementPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "settlement",
	Name:      "passes_total",
	Help:      "Settlement passes by outcome (ok, partial, timeout).",
}, []string{"outcome"})

var SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tycoon",
	Subsystem: "settlement",
	Name:      "pass_duration_seconds",
	Help:      "Wall time of a full settlement pass.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
})

var SettlementSettled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "settlement",
	Name:      "settled_total",
	Help:      "Investments whose state advanced during a pass.",
})

var SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "settlement",
	Name:      "failures_total",
	Help:      "Per-investment settlement failures. The investment is retried next pass.",
})

var RiskEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "risk",
	Name:      "events_total",
	Help:      "Risk events applied, by severity.",
}, []string{"severity"})

var Shutdowns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "risk",
	Name:      "shutdowns_total",
	Help:      "Investments closed because condition reached zero.",
})

var LifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "lifecycle",
	Name:      "operations_total",
	Help:      "Owner operations by name and result.",
}, []string{"op", "result"})

var Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "lifecycle",
	Name:      "compensations_total",
	Help:      "Refunds issued after a debit whose mutation failed, by result.",
}, []string{"result"})

var NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Notifications that returned an error or timed out.",
})

var NotifyDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tycoon",
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Notifications dropped because the dispatch queue was full.",
})

var PendingDecisions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tycoon",
	Subsystem: "emergency",
	Name:      "pending_decisions",
	Help:      "Emergency decisions currently awaiting an owner response.",
})
