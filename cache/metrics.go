package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	adviceCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qerrors_advice_cache_entries",
			Help: "Current number of live entries in the advice cache.",
		},
		[]string{"namespace"},
	)
	adviceCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_advice_cache_hits_total",
			Help: "Total advice cache hits.",
		},
		[]string{"namespace"},
	)
	adviceCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_advice_cache_misses_total",
			Help: "Total advice cache misses.",
		},
		[]string{"namespace"},
	)
)

func init() {
	prometheus.MustRegister(adviceCacheSize, adviceCacheHits, adviceCacheMisses)
}
