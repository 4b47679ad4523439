// Package metrics exposes refresh, index, and resolution metrics for
// Prometheus scraping. A dedicated registry keeps the surface free of
// default-registry noise; the HTTP transport mounts Handler at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Construct with New; a nil *Metrics is
// valid and drops every observation, so wiring stays optional.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	syncsTotal       *prometheus.CounterVec
	indexBuildsTotal prometheus.Counter
	resolvesTotal    *prometheus.CounterVec
	validationsTotal *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec

	// Gauges
	indexCVEs      prometheus.Gauge
	indexTemplates prometheus.Gauge
	indexWarnings  prometheus.Gauge

	// Histograms
	syncDurationSeconds       prometheus.Histogram
	indexBuildDurationSeconds prometheus.Histogram
}

// New creates a Metrics with all collectors registered on a fresh
// registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.syncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafrules_syncs_total",
			Help: "Total number of mirror sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.indexBuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wafrules_index_builds_total",
			Help: "Total number of CVE index builds",
		},
	)

	m.resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafrules_resolves_total",
			Help: "Total number of CVE resolutions by status",
		},
		[]string{"status"},
	)

	m.validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafrules_validations_total",
			Help: "Total number of expression validation calls by result",
		},
		[]string{"result"},
	)

	m.toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafrules_tool_calls_total",
			Help: "Total number of MCP tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	m.indexCVEs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafrules_index_cves",
			Help: "Distinct CVE identifiers in the published index",
		},
	)

	m.indexTemplates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafrules_index_templates",
			Help: "Template files in the published index",
		},
	)

	m.indexWarnings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafrules_index_warnings",
			Help: "Files skipped with warnings during the last index build",
		},
	)

	m.syncDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wafrules_sync_duration_seconds",
			Help:    "Mirror sync duration distribution in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	m.indexBuildDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wafrules_index_build_duration_seconds",
			Help:    "CVE index build duration distribution in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	collectors := []prometheus.Collector{
		m.syncsTotal,
		m.indexBuildsTotal,
		m.resolvesTotal,
		m.validationsTotal,
		m.toolCallsTotal,
		m.indexCVEs,
		m.indexTemplates,
		m.indexWarnings,
		m.syncDurationSeconds,
		m.indexBuildDurationSeconds,
	}
	for _, c := range collectors {
		m.registry.MustRegister(c)
	}
	return m
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSync records a sync attempt.
func (m *Metrics) ObserveSync(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncsTotal.WithLabelValues(outcome).Inc()
	m.syncDurationSeconds.Observe(d.Seconds())
}

// ObserveIndexBuild records a completed index build.
func (m *Metrics) ObserveIndexBuild(cves, templates, warnings int, d time.Duration) {
	if m == nil {
		return
	}
	m.indexBuildsTotal.Inc()
	m.indexBuildDurationSeconds.Observe(d.Seconds())
	m.indexCVEs.Set(float64(cves))
	m.indexTemplates.Set(float64(templates))
	m.indexWarnings.Set(float64(warnings))
}

// ObserveResolve records a resolution outcome.
func (m *Metrics) ObserveResolve(status string) {
	if m == nil {
		return
	}
	m.resolvesTotal.WithLabelValues(status).Inc()
}

// ObserveValidation records an expression validation result.
func (m *Metrics) ObserveValidation(result string) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(result).Inc()
}

// ObserveToolCall records an MCP tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}
