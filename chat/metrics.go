package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "volute_chat_sessions",
	Help: "Live chat sessions.",
})

var evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_chat_evictions_total",
	Help: "Sessions evicted by the LRU cap.",
})
