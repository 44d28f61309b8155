package shellcache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	revalidations   prometheus.Counter
	installFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shellcache_requests_total",
			Help: "Requests handled, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		revalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellcache_revalidations_total",
			Help: "Background cache refreshes that completed.",
		}),
		installFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shellcache_install_asset_failures_total",
			Help: "Shell manifest assets that could not be fetched or stored during install.",
		}),
	}
	m.registry.MustRegister(m.requests, m.revalidations, m.installFailures)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
