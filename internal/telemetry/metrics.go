// Package telemetry exposes Prometheus metrics for the scan and
// verification paths. All methods are nil-receiver safe so components can
// treat metrics as optional.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated registry; nothing is registered globally.
type Metrics struct {
	registry *prometheus.Registry

	scanPhase   *prometheus.HistogramVec
	searchTier  *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	indexBuilds prometheus.Counter
	indexDocs   prometheus.Gauge
	frameDrops  prometheus.Counter
}

// New creates the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		scanPhase: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medverify",
			Name:      "scan_phase_seconds",
			Help:      "Latency per scan pipeline phase.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"phase"}),
		searchTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medverify",
			Name:      "search_tier_total",
			Help:      "Retrieval tier that produced the returned hits.",
		}, []string{"tier"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medverify",
			Name:      "verify_decisions_total",
			Help:      "Verification decisions by outcome.",
		}, []string{"decision"}),
		indexBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medverify",
			Name:      "index_builds_total",
			Help:      "Completed vector index builds.",
		}),
		indexDocs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "medverify",
			Name:      "index_documents",
			Help:      "Documents in the last built vector index.",
		}),
		frameDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medverify",
			Name:      "frames_dropped_total",
			Help:      "Stale frames dropped by the realtime worker.",
		}),
	}
}

// ObserveScanPhase records one phase duration.
func (m *Metrics) ObserveScanPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanPhase.WithLabelValues(phase).Observe(d.Seconds())
}

// IncSearchTier counts a search served by the given tier.
func (m *Metrics) IncSearchTier(tier string) {
	if m == nil {
		return
	}
	m.searchTier.WithLabelValues(tier).Inc()
}

// IncDecision counts a verification decision.
func (m *Metrics) IncDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// IndexBuilt records a completed build and its document count.
func (m *Metrics) IndexBuilt(docs int) {
	if m == nil {
		return
	}
	m.indexBuilds.Inc()
	m.indexDocs.Set(float64(docs))
}

// IncFrameDropped counts a dropped realtime frame.
func (m *Metrics) IncFrameDropped() {
	if m == nil {
		return
	}
	m.frameDrops.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
