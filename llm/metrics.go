package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "volute_llm_requests_total",
	Help: "Provider calls by operation and outcome.",
}, []string{"op", "outcome"})

var requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "volute_llm_request_seconds",
	Help:    "Provider call latency by operation.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"op"})
