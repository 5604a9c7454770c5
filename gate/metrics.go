package gate

import "github.com/prometheus/client_golang/prometheus"

var (
	gateDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qerrors_gate_queue_depth",
			Help: "Current number of tasks waiting for an in-flight slot.",
		},
		[]string{"namespace"},
	)
	gateInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qerrors_gate_in_flight",
			Help: "Current number of tasks admitted and running.",
		},
		[]string{"namespace"},
	)
	gateRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_gate_rejected_total",
			Help: "Total tasks rejected with queue-exhausted.",
		},
		[]string{"namespace"},
	)
)

func init() {
	prometheus.MustRegister(gateDepth, gateInFlight, gateRejectedTotal)
}
