package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "volute_retrieval_queries_total",
	Help: "Index queries by outcome.",
}, []string{"outcome"})

var chunksGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "volute_retrieval_chunks",
	Help: "Chunks held by the open index.",
})
