package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors instruments the call engine. It satisfies the engine's Metrics
// interface and owns its own registry so tests never collide on the global
// one.
type Collectors struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	retries  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Name:      "calls_total",
			Help:      "Finished generation calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Name:      "retries_total",
			Help:      "Scheduled retries by provider and reason.",
		}, []string{"provider", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lorekeeper",
			Name:      "call_duration_seconds",
			Help:      "End-to-end call latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
	}
	c.registry.MustRegister(c.calls, c.retries, c.latency)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

func (c *Collectors) CallFinished(provider, outcome string, latency time.Duration) {
	c.calls.WithLabelValues(provider, outcome).Inc()
	c.latency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (c *Collectors) RetryScheduled(provider, reason string) {
	c.retries.WithLabelValues(provider, reason).Inc()
}
