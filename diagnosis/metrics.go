package diagnosis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "volute_diagnosis_requests_total",
	Help: "Engine operations by kind and outcome.",
}, []string{"op", "outcome"})

var degradedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_diagnosis_retrieval_degraded_total",
	Help: "Operations that proceeded with empty manual context.",
})
