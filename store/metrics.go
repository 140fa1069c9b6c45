package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingestedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_store_ingested_total",
	Help: "Samples accepted into the rolling history.",
})

var subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "volute_store_subscribers",
	Help: "Currently registered stream subscribers.",
})

var subscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_store_subscriber_drops_total",
	Help: "Samples shed from full subscriber queues.",
})

var stalenessGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "volute_store_staleness_seconds",
	Help: "Age of the most recent sample at last check.",
})

var faultTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "volute_fault_transitions_total",
	Help: "Fault onsets observed, by fault state.",
}, []string{"fault_state"})
