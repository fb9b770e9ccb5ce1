package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the cache and sync engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	queueDelivered *prometheus.CounterVec
	queueFailed    *prometheus.CounterVec
	queueDropped   *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	evictions *prometheus.CounterVec
	prefetch  *prometheus.CounterVec
	responses *prometheus.CounterVec
	stages    *prometheus.CounterVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_queue_delivered_total",
				Help: "Queued actions delivered to the server",
			},
			[]string{"kind"},
		),
		queueFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_queue_failed_total",
				Help: "Failed delivery attempts of queued actions",
			},
			[]string{"kind"},
		),
		queueDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_queue_dropped_total",
				Help: "Queued actions dropped without delivery",
			},
			[]string{"kind", "reason"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satchel_queue_depth",
			Help: "Actions waiting in the offline queue",
		}),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_cache_evictions_total",
				Help: "Cache entries removed",
			},
			[]string{"cache"},
		),
		prefetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_prefetch_total",
				Help: "Prefetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_boundary_responses_total",
				Help: "Responses served by the network boundary",
			},
			[]string{"route", "source"},
		),
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_sync_items_total",
				Help: "Items processed by the sync orchestrator",
			},
			[]string{"stage", "result"},
		),
	}

	m.registry.MustRegister(
		m.queueDelivered,
		m.queueFailed,
		m.queueDropped,
		m.queueDepth,
		m.evictions,
		m.prefetch,
		m.responses,
		m.stages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.queueDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) Failed(kind string) {
	if m == nil {
		return
	}
	m.queueFailed.WithLabelValues(kind).Inc()
}

// Dropped records an action leaving the queue undelivered ("rejected" or "exhausted")
func (m *Metrics) Dropped(kind, reason string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Evicted(cache string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(cache).Add(float64(n))
}

// Prefetched records a prefetch outcome: "downloaded", "cached", "no_video", "too_large" or "failed"
func (m *Metrics) Prefetched(outcome string) {
	if m == nil {
		return
	}
	m.prefetch.WithLabelValues(outcome).Inc()
}

// Served records a boundary response; source is "cache", "network" or "fallback"
func (m *Metrics) Served(route, source string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(route, source).Inc()
}

func (m *Metrics) Stage(stage, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.stages.WithLabelValues(stage, result).Add(float64(n))
}
