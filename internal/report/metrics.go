package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsReporter exposes dispatcher activity as Prometheus metrics.
type MetricsReporter struct {
	registry *prometheus.Registry

	queued   *prometheus.CounterVec
	finished *prometheus.CounterVec
	inflight *prometheus.GaugeVec
	cacheHit *prometheus.CounterVec
}

// NewMetricsReporter builds a reporter with its own registry.
func NewMetricsReporter() *MetricsReporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsReporter{
		registry: registry,
		queued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_tasks_queued_total",
			Help: "Tasks accepted by the dispatcher, by job class.",
		}, []string{"class"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_tasks_finished_total",
			Help: "Tasks finished, by job class and outcome.",
		}, []string{"class", "outcome"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quarry_tasks_inflight",
			Help: "Tasks currently executing, by job class.",
		}, []string{"class"}),
		cacheHit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quarry_task_cache_hits_total",
			Help: "Tasks answered from a previously cached result, by job class.",
		}, []string{"class"}),
	}
}

func (r *MetricsReporter) TaskQueued(e Event) {
	r.queued.WithLabelValues(string(e.Class)).Inc()
}

func (r *MetricsReporter) TaskStarted(e Event) {
	r.inflight.WithLabelValues(string(e.Class)).Inc()
}

func (r *MetricsReporter) TaskFinished(e Event) {
	r.inflight.WithLabelValues(string(e.Class)).Dec()
	outcome := "ok"
	if e.Err != "" {
		outcome = "error"
	}
	r.finished.WithLabelValues(string(e.Class), outcome).Inc()
	if e.Cached {
		r.cacheHit.WithLabelValues(string(e.Class)).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *MetricsReporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that mount additional
// collectors.
func (r *MetricsReporter) Registry() *prometheus.Registry {
	return r.registry
}
