package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics lives on its own registry rather than the global default, so two
// Servers in one process (tests do this) don't collide on registration.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	upstream *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeshui_relay_requests_total",
			Help: "Relay requests by endpoint, vendor and response status.",
		}, []string{"endpoint", "provider", "code"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeshui_relay_upstream_seconds",
			Help:    "Time spent waiting on the vendor, by vendor.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.upstream,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) countRequest(endpoint, provider string, code int) {
	m.requests.WithLabelValues(endpoint, provider, strconv.Itoa(code)).Inc()
}

func (m *metrics) observeUpstream(provider string, start time.Time) {
	m.upstream.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
