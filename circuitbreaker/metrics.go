package circuitbreaker

import "github.com/prometheus/client_golang/prometheus"

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qerrors_circuit_breaker_state",
			Help: "Current breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
		},
		[]string{"provider"},
	)
	breakerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_circuit_breaker_requests_total",
			Help: "Total calls observed by the breaker, by outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerRequestsTotal)
}

// ObserveState publishes the breaker's current state under the given
// provider label. The breaker calls it on construction and on every state
// change, including Reset.
func ObserveState(provider string, s State) {
	breakerState.WithLabelValues(provider).Set(float64(s))
}

// ObserveOutcome increments the per-provider request counter. outcome is
// "success" or "failure".
func ObserveOutcome(provider, outcome string) {
	breakerRequestsTotal.WithLabelValues(provider, outcome).Inc()
}
