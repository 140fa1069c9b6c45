package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var wsClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "volute_api_ws_clients",
	Help: "Connected sensor stream clients.",
})
