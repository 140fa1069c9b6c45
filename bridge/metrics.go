package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var receivedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_bridge_received_total",
	Help: "Telemetry payloads received from the broker.",
})

var malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_bridge_malformed_total",
	Help: "Telemetry payloads dropped as unparseable.",
})

var coercedFieldsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_bridge_coerced_fields_total",
	Help: "Numeric fields zeroed during normalization.",
})

var seqGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "volute_bridge_seq_gaps_total",
	Help: "Non-contiguous jumps in the telemetry sequence counter.",
})

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "volute_bridge_commands_total",
	Help: "Command publishes by command and outcome.",
}, []string{"command", "outcome"})
