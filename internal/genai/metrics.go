package genai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus instruments.
type Metrics struct {
	Calls     prometheus.Counter
	CacheHits prometheus.Counter
	Retries   prometheus.Counter
	Errors    prometheus.Counter
}

// NewMetrics registers the gateway counters on the given registry. A nil
// registry falls back to the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		Calls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "salesbot",
			Subsystem: "genai",
			Name:      "calls_total",
			Help:      "External model calls attempted",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "salesbot",
			Subsystem: "genai",
			Name:      "cache_hits_total",
			Help:      "Calls answered from the result cache",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "salesbot",
			Subsystem: "genai",
			Name:      "retries_total",
			Help:      "Rate-limit retries performed",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "salesbot",
			Subsystem: "genai",
			Name:      "errors_total",
			Help:      "Calls that failed permanently",
		}),
	}
}
